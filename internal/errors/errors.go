package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrItemNotFound   = errors.New("queue item not found")
	ErrQueueRunning   = errors.New("queue is already running")
	ErrEmptyCaption   = errors.New("caption body is empty")
	ErrNoOutput       = errors.New("remux produced no output file")
	ErrStateMalformed = errors.New("persisted queue state is malformed")
)

// ProtocolError reports an unexpected HTTP status or a missing response
// header on one of the remote media endpoints.
type ProtocolError struct {
	Op     string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: %s", e.Op, e.Detail)
}

// NoPlayableStreamError means the input transport stream contains neither a
// copyable video stream nor a copyable audio stream.
type NoPlayableStreamError struct{}

func (e *NoPlayableStreamError) Error() string {
	return "input has neither a playable video nor audio stream"
}

// RemuxError is the terminal failure of the remux pipeline: the base MP4
// could not be produced even after both re-encode fallbacks. Trace carries
// the most recent command traces for operator debugging.
type RemuxError struct {
	Message string
	Trace   []string
}

func (e *RemuxError) Error() string {
	if len(e.Trace) == 0 {
		return e.Message
	}
	return e.Message + "\n" + strings.Join(e.Trace, "\n")
}

// CaptionEmbedError means the caption mux could not be validated after all
// fallbacks. It is raised only when captions were explicitly requested.
type CaptionEmbedError struct {
	Message string
}

func (e *CaptionEmbedError) Error() string { return e.Message }

// CaptionUnavailableError means every caption URL/auth combination was
// exhausted. It is non-fatal: the job degrades to no captions.
type CaptionUnavailableError struct {
	Err error
}

func (e *CaptionUnavailableError) Error() string {
	if e.Err == nil {
		return "caption source unavailable"
	}
	return fmt.Sprintf("caption source unavailable: %v", e.Err)
}

func (e *CaptionUnavailableError) Unwrap() error { return e.Err }

// MissingCredentialsError means the auth collaborator handed over incomplete
// session data.
type MissingCredentialsError struct {
	Field string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("missing credential: %s", e.Field)
}

// CanceledError is a user-initiated abort, distinguished from ordinary
// failure so the queue classifies the item as canceled instead of failed.
type CanceledError struct {
	Stage string
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("canceled during %s", e.Stage)
}

// Is lets errors.Is(err, context.Canceled) match a CanceledError.
func (e *CanceledError) Is(target error) bool {
	return target == context.Canceled
}

// IsCanceled classifies an error as a cancellation, whether it surfaced as a
// CanceledError or as a raw context error from a lower layer.
func IsCanceled(err error) bool {
	var ce *CanceledError
	return errors.As(err, &ce) || errors.Is(err, context.Canceled)
}
