package ffmpeg

import (
	"fmt"
	"strings"
)

// StreamKind selects which elementary stream a probe targets.
type StreamKind string

const (
	StreamVideo    StreamKind = "video"
	StreamAudio    StreamKind = "audio"
	StreamSubtitle StreamKind = "subtitle"
)

func (k StreamKind) mapSpec() string {
	switch k {
	case StreamVideo:
		return "0:v:0"
	case StreamAudio:
		return "0:a:0"
	default:
		return "0:s:0"
	}
}

// Builder assembles argument vectors for the remux pipeline's commands.
type Builder struct {
	// DecodeWindowSecs bounds the timed null-decode used to validate that an
	// output is actually decodable, not just well-formed.
	DecodeWindowSecs int
}

func NewBuilder(decodeWindowSecs int) *Builder {
	if decodeWindowSecs <= 0 {
		decodeWindowSecs = 10
	}
	return &Builder{DecodeWindowSecs: decodeWindowSecs}
}

func global() []string {
	return []string{"-nostats", "-hide_banner", "-loglevel", "error", "-y"}
}

// permissiveInput tolerates the TS timing glitches real lecture captures
// carry: regenerate timestamps, ignore DTS errors, drop corrupt packets.
func permissiveInput() []string {
	return []string{
		"-fflags", "+genpts+igndts+discardcorrupt",
		"-err_detect", "ignore_err",
	}
}

func mapArgs(hasVideo, hasAudio bool) []string {
	var args []string
	if hasVideo {
		args = append(args, "-map", StreamVideo.mapSpec())
	}
	if hasAudio {
		args = append(args, "-map", StreamAudio.mapSpec())
	}
	return args
}

// StreamProbe attempts a null-output copy of a single stream; the stream
// exists and is copyable iff the command exits zero.
func (b *Builder) StreamProbe(input string, kind StreamKind) []string {
	args := global()
	args = append(args, "-i", input)
	args = append(args, "-map", kind.mapSpec(), "-c", "copy", "-f", "null", "-")
	return args
}

// CopyRemux is the lossless copy-first path into MP4, mapping only the
// streams confirmed present.
func (b *Builder) CopyRemux(input, output string, hasVideo, hasAudio bool) []string {
	args := global()
	args = append(args, permissiveInput()...)
	args = append(args, "-i", input)
	args = append(args, mapArgs(hasVideo, hasAudio)...)
	args = append(args, "-c", "copy")
	if hasAudio {
		args = append(args, "-bsf:a", "aac_adtstoasc")
	}
	args = append(args, "-movflags", "+faststart", output)
	return args
}

// DecodeCheck performs a timed null decode of the output. A container can be
// well-formed yet carry undecodable payload, which copy-remux cannot detect.
func (b *Builder) DecodeCheck(input string) []string {
	args := global()
	args = append(args, "-t", fmt.Sprintf("%d", b.DecodeWindowSecs), "-i", input)
	args = append(args, "-f", "null", "-")
	return args
}

// EncodeH264 is the first re-encode tier: a commonly available software
// H.264/AAC pairing at a moderate quality target.
func (b *Builder) EncodeH264(input, output string, hasVideo, hasAudio bool) []string {
	args := global()
	args = append(args, permissiveInput()...)
	args = append(args, "-i", input)
	args = append(args, mapArgs(hasVideo, hasAudio)...)
	if hasVideo {
		args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-crf", "23")
	}
	if hasAudio {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	}
	args = append(args, "-movflags", "+faststart", output)
	return args
}

// EncodeMPEG4 is the second, more permissive tier for engine builds without
// libx264.
func (b *Builder) EncodeMPEG4(input, output string, hasVideo, hasAudio bool) []string {
	args := global()
	args = append(args, permissiveInput()...)
	args = append(args, "-i", input)
	args = append(args, mapArgs(hasVideo, hasAudio)...)
	if hasVideo {
		args = append(args, "-c:v", "mpeg4", "-q:v", "5")
	}
	if hasAudio {
		args = append(args, "-c:a", "aac", "-b:a", "128k", "-strict", "-2")
	}
	args = append(args, "-movflags", "+faststart", output)
	return args
}

// SubtitleTrack demuxes a caption file into a standalone MP4 subtitle track.
func (b *Builder) SubtitleTrack(captionFile, output string) []string {
	args := global()
	args = append(args, "-i", captionFile)
	args = append(args, "-map", "0:s:0", "-c:s", "mov_text", output)
	return args
}

// CaptionMux stream-copies video/audio from the base MP4 together with the
// subtitle track, tagging the subtitle language.
func (b *Builder) CaptionMux(base, subs, output, language string, hasVideo, hasAudio bool) []string {
	args := global()
	args = append(args, "-i", base, "-i", subs)
	args = append(args, mapArgs(hasVideo, hasAudio)...)
	args = append(args, "-map", "1:s:0")
	args = append(args, "-c", "copy", "-c:s", "mov_text")
	args = append(args, "-metadata:s:s:0", "language="+normalizeLanguage(language))
	args = append(args, "-movflags", "+faststart", output)
	return args
}

// CaptionMuxEncode is the caption-mux retry mapping all three streams through
// a re-encode tier instead of stream copy.
func (b *Builder) CaptionMuxEncode(base, subs, output, language string, hasVideo, hasAudio bool, videoCodec []string) []string {
	args := global()
	args = append(args, "-i", base, "-i", subs)
	args = append(args, mapArgs(hasVideo, hasAudio)...)
	args = append(args, "-map", "1:s:0")
	if hasVideo {
		args = append(args, videoCodec...)
	}
	if hasAudio {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	}
	args = append(args, "-c:s", "mov_text")
	args = append(args, "-metadata:s:s:0", "language="+normalizeLanguage(language))
	args = append(args, "-movflags", "+faststart", output)
	return args
}

// FullProbe decodes nothing but forces ffmpeg to report the input's streams
// on stderr; used only to enrich failure diagnostics.
func (b *Builder) FullProbe(input string) []string {
	args := []string{"-nostats", "-hide_banner", "-i", input, "-f", "null", "-t", "0", "-"}
	return args
}

// DecodeOnly decodes a single stream to null output, also diagnostics-only.
func (b *Builder) DecodeOnly(input string, kind StreamKind) []string {
	args := global()
	args = append(args, "-t", fmt.Sprintf("%d", b.DecodeWindowSecs), "-i", input)
	args = append(args, "-map", kind.mapSpec(), "-f", "null", "-")
	return args
}

func normalizeLanguage(language string) string {
	language = strings.TrimSpace(strings.ToLower(language))
	if language == "" {
		return "eng"
	}
	// mov_text language tags are ISO 639-2; pass common two-letter codes
	// through a small table and default everything unknown to eng.
	iso := map[string]string{
		"en": "eng", "fr": "fra", "es": "spa", "de": "deu",
		"it": "ita", "pt": "por", "zh": "zho", "ar": "ara",
	}
	if mapped, ok := iso[language]; ok {
		return mapped
	}
	if len(language) == 3 {
		return language
	}
	return "eng"
}
