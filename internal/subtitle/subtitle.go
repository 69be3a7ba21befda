package subtitle

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// minCueDuration is applied when a cue's end time is not strictly after its
// (possibly clamped) start time; strict subtitle muxers reject such cues.
const minCueDuration = 200 * time.Millisecond

// Cue is one subtitle cue with zero-based ordering applied at render time.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  []string
}

// EnsureWebVTT returns content with a WEBVTT preamble, synthesizing one when
// the payload is raw cue text without it.
func EnsureWebVTT(content string) string {
	trimmed := strings.TrimLeft(content, "\uFEFF \t\r\n")
	if strings.HasPrefix(trimmed, "WEBVTT") {
		return content
	}
	return "WEBVTT\n\n" + content
}

// ParseWebVTT extracts cues from a WebVTT payload. The parser is tolerant:
// the header is optional, cue identifiers are skipped, cue settings after the
// arrow are ignored, and unparseable blocks are dropped rather than failing
// the whole payload.
func ParseWebVTT(content string) []Cue {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimPrefix(content, "\uFEFF")

	var cues []Cue
	blocks := strings.Split(content, "\n\n")
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		for i, line := range lines {
			if !strings.Contains(line, "-->") {
				continue
			}
			cue, err := parseCue(line, lines[i+1:])
			if err == nil {
				cues = append(cues, cue)
			}
			break
		}
	}
	return cues
}

func parseCue(timing string, textLines []string) (Cue, error) {
	parts := strings.SplitN(timing, "-->", 2)
	if len(parts) != 2 {
		return Cue{}, fmt.Errorf("malformed timing line: %q", timing)
	}

	start, err := ParseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return Cue{}, err
	}

	// Cue settings (position, align, ...) may follow the end timestamp.
	endField := strings.Fields(strings.TrimSpace(parts[1]))
	if len(endField) == 0 {
		return Cue{}, fmt.Errorf("missing end timestamp: %q", timing)
	}
	end, err := ParseTimestamp(endField[0])
	if err != nil {
		return Cue{}, err
	}

	var text []string
	for _, l := range textLines {
		text = append(text, strings.TrimRight(l, " \t"))
	}
	return Cue{Start: start, End: end, Text: text}, nil
}

// ParseTimestamp accepts both HH:MM:SS.mmm and MM:SS.mmm forms, with either
// a dot or a comma before the milliseconds.
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.ReplaceAll(s, ",", ".")
	segs := strings.Split(s, ":")

	var hours, minutes int
	var secondsPart string
	switch len(segs) {
	case 3:
		h, err := strconv.Atoi(segs[0])
		if err != nil {
			return 0, fmt.Errorf("invalid hours in timestamp %q", s)
		}
		m, err := strconv.Atoi(segs[1])
		if err != nil {
			return 0, fmt.Errorf("invalid minutes in timestamp %q", s)
		}
		hours, minutes, secondsPart = h, m, segs[2]
	case 2:
		m, err := strconv.Atoi(segs[0])
		if err != nil {
			return 0, fmt.Errorf("invalid minutes in timestamp %q", s)
		}
		minutes, secondsPart = m, segs[1]
	default:
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}

	seconds, err := strconv.ParseFloat(secondsPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid seconds in timestamp %q", s)
	}

	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return d, nil
}

// Normalize sorts cues by start time and clamps them so starts are monotonic
// and non-overlapping: a cue starting before the previous cue's end is pushed
// forward to it, and a cue whose end is not strictly after its start is given
// the minimum duration.
func Normalize(cues []Cue) []Cue {
	out := make([]Cue, len(cues))
	copy(out, cues)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	var prevEnd time.Duration
	for i := range out {
		if out[i].Start < prevEnd {
			out[i].Start = prevEnd
		}
		if out[i].End <= out[i].Start {
			out[i].End = out[i].Start + minCueDuration
		}
		prevEnd = out[i].End
	}
	return out
}

// ToSRT renders cues as an SRT document. Cues are normalized first so the
// output is valid even when the source WebVTT was malformed.
func ToSRT(cues []Cue) string {
	normalized := Normalize(cues)

	var b strings.Builder
	for i, cue := range normalized {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", FormatSRTTimestamp(cue.Start), FormatSRTTimestamp(cue.End))
		for _, line := range cue.Text {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ConvertToSRT converts a WebVTT payload to SRT in one step.
func ConvertToSRT(vtt string) string {
	return ToSRT(ParseWebVTT(vtt))
}

// FormatSRTTimestamp renders a duration as HH:MM:SS,mmm.
func FormatSRTTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	ms := (d - s*time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
