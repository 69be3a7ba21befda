package ffmpeg

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrace_AppendAndTail(t *testing.T) {
	tr := NewTrace(3)

	tr.Append(TraceEntry{Command: "a", OK: true, ExitStatus: 0})
	tr.Append(TraceEntry{Command: "b", OK: false, ExitStatus: 1, StderrTail: "boom"})
	assert.Equal(t, 2, tr.Len())

	tail := tr.Tail(10)
	assert.Len(t, tail, 2)
	assert.Contains(t, tail[1], "b")
	assert.Contains(t, tail[1], "boom")
}

func TestTrace_CapacityEviction(t *testing.T) {
	tr := NewTrace(3)
	for i := 0; i < 5; i++ {
		tr.Append(TraceEntry{Command: fmt.Sprintf("cmd-%d", i), OK: true})
	}

	assert.Equal(t, 3, tr.Len())
	tail := tr.Tail(3)
	assert.Contains(t, tail[0], "cmd-2")
	assert.Contains(t, tail[2], "cmd-4")
}

func TestTrace_DefaultCapacity(t *testing.T) {
	tr := NewTrace(0)
	for i := 0; i < DefaultTraceCapacity+50; i++ {
		tr.Append(TraceEntry{Command: fmt.Sprintf("cmd-%d", i), OK: true})
	}
	assert.Equal(t, DefaultTraceCapacity, tr.Len())
}

func TestTrace_Reset(t *testing.T) {
	tr := NewTrace(3)
	tr.Append(TraceEntry{Command: "a"})
	tr.Reset()
	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.Tail(5))
}
