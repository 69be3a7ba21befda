package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Result captures one finished command: its exit status and bounded tails of
// the standard streams.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports whether the command ran and exited zero.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Runner executes one transcoding command. The error return is reserved for
// commands that could not run at all (missing binary, canceled context); a
// command that ran and exited non-zero is reported through Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, args []string) (Result, error)
}

// ExecRunner runs ffmpeg as a subprocess.
type ExecRunner struct {
	BinaryPath string
	TailBytes  int
}

// NewExecRunner returns a runner for the given ffmpeg binary. tailBytes
// bounds how much of stdout/stderr is retained per command.
func NewExecRunner(binaryPath string, tailBytes int) *ExecRunner {
	if tailBytes <= 0 {
		tailBytes = 2048
	}
	return &ExecRunner{BinaryPath: binaryPath, TailBytes: tailBytes}
}

func (r *ExecRunner) Run(ctx context.Context, args []string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, r.BinaryPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := Result{
		Stdout: Tail(stdout.String(), r.TailBytes),
		Stderr: Tail(stderr.String(), r.TailBytes),
	}

	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}

	return res, nil
}

// Tail returns the last n bytes of s, cut at a line boundary when possible.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if idx := strings.IndexByte(s, '\n'); idx >= 0 && idx < len(s)-1 {
		s = s[idx+1:]
	}
	return s
}
