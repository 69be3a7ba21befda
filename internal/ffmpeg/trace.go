package ffmpeg

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultTraceCapacity bounds the diagnostic ring buffer.
const DefaultTraceCapacity = 200

// TraceEntry records one transcoding invocation for operator debugging.
type TraceEntry struct {
	Command    string
	OK         bool
	ExitStatus int
	StderrTail string
	StdoutTail string
}

func (e TraceEntry) String() string {
	status := "ok"
	if !e.OK {
		status = fmt.Sprintf("exit %d", e.ExitStatus)
	}
	line := fmt.Sprintf("[%s] %s", status, e.Command)
	if !e.OK && e.StderrTail != "" {
		line += "\n  stderr: " + strings.TrimSpace(e.StderrTail)
	}
	return line
}

// Trace is a bounded ring of command records. It is appended on every
// invocation, trimmed to the most recent entries, and cleared at the start of
// each job to avoid cross-job confusion.
type Trace struct {
	mu       sync.Mutex
	capacity int
	entries  []TraceEntry
}

// NewTrace creates a trace with the given capacity (DefaultTraceCapacity when
// non-positive).
func NewTrace(capacity int) *Trace {
	if capacity <= 0 {
		capacity = DefaultTraceCapacity
	}
	return &Trace{capacity: capacity}
}

// Append records one command, trimming to capacity.
func (t *Trace) Append(entry TraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, entry)
	if len(t.entries) > t.capacity {
		t.entries = t.entries[len(t.entries)-t.capacity:]
	}
}

// Reset clears all entries.
func (t *Trace) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}

// Len returns the number of retained entries.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Tail returns formatted lines for the most recent n entries.
func (t *Trace) Tail(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := len(t.entries) - n
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, len(t.entries)-start)
	for _, e := range t.entries[start:] {
		lines = append(lines, e.String())
	}
	return lines
}
