package remux

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/domain"
	errpkg "github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/errors"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/ffmpeg"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/metrics"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/subtitle"
)

const (
	maxDebugLines  = 128
	traceTailLines = 8
)

// Engine owns the transcoding runner and serializes command execution: the
// runner's scratch filesystem is a shared mutable resource, so at most one
// remux runs system-wide. The runner is recreated per job rather than reused,
// trading a cold start for guaranteed absence of cross-job state.
type Engine struct {
	newRunner func() ffmpeg.Runner
	builder   *ffmpeg.Builder
	trace     *ffmpeg.Trace
	workRoot  string
	logger    *slog.Logger

	mu sync.Mutex
}

// NewEngine creates an engine rooted at workRoot. newRunner is invoked once
// per job.
func NewEngine(newRunner func() ffmpeg.Runner, builder *ffmpeg.Builder, workRoot string, logger *slog.Logger) *Engine {
	return &Engine{
		newRunner: newRunner,
		builder:   builder,
		trace:     ffmpeg.NewTrace(ffmpeg.DefaultTraceCapacity),
		workRoot:  workRoot,
		logger:    logger,
	}
}

// Trace exposes the diagnostic command ring buffer.
func (e *Engine) Trace() *ffmpeg.Trace { return e.trace }

// Remux converts a transport-stream payload into a validated MP4, embedding
// the caption track when one is supplied. A supplied caption track is an
// explicit request: if embedding cannot be validated after all fallbacks the
// job fails with CaptionEmbedError rather than silently dropping captions.
func (e *Engine) Remux(ctx context.Context, input []byte, outputName string, caption *domain.CaptionTrack) (*domain.RemuxResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.trace.Reset()

	dir, err := os.MkdirTemp(e.workRoot, "remux-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	j := &job{
		runner:  e.newRunner(),
		builder: e.builder,
		trace:   e.trace,
		logger:  e.logger,
		dir:     dir,
		id:      uuid.NewString()[:8],
	}
	defer j.cleanup()

	j.note("remux %s: %d input bytes", outputName, len(input))
	return j.run(ctx, input, caption)
}

type job struct {
	runner  ffmpeg.Runner
	builder *ffmpeg.Builder
	trace   *ffmpeg.Trace
	logger  *slog.Logger
	dir     string
	id      string

	inputPath string
	hasVideo  bool
	hasAudio  bool
	debug     []string
}

// attempt is one rung of a fallback ladder: a labeled command evaluated by a
// uniform run-validate-accept-or-advance loop.
type attempt struct {
	label string
	args  []string
}

func (j *job) run(ctx context.Context, input []byte, caption *domain.CaptionTrack) (*domain.RemuxResult, error) {
	j.inputPath = j.path("input", ".ts")
	if err := os.WriteFile(j.inputPath, input, 0o644); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}
	hasVideo, err := j.exec(ctx, "probe video stream", j.builder.StreamProbe(j.inputPath, ffmpeg.StreamVideo))
	if err != nil {
		return nil, err
	}
	hasAudio, err := j.exec(ctx, "probe audio stream", j.builder.StreamProbe(j.inputPath, ffmpeg.StreamAudio))
	if err != nil {
		return nil, err
	}
	j.hasVideo, j.hasAudio = hasVideo, hasAudio
	j.note("stream presence: video=%t audio=%t", hasVideo, hasAudio)

	if !hasVideo && !hasAudio {
		j.diagnose(ctx, "")
		return nil, &errpkg.NoPlayableStreamError{}
	}

	basePath, err := j.buildBase(ctx)
	if err != nil {
		return nil, err
	}

	finalPath := basePath
	captionsEmbedded := false
	if caption != nil {
		muxed, embedded, err := j.embedCaptions(ctx, basePath, caption)
		if err != nil {
			return nil, err
		}
		if embedded {
			finalPath = muxed
			captionsEmbedded = true
		}
	}

	blob, err := os.ReadFile(finalPath)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	j.note("finalized %s (%d bytes), captions embedded=%t", filepath.Base(finalPath), len(blob), captionsEmbedded)

	return &domain.RemuxResult{
		Blob:             blob,
		CaptionsEmbedded: captionsEmbedded,
		DebugLog:         j.debug,
	}, nil
}

// buildBase produces the validated base MP4: stream copy first, then the
// two-tier re-encode ladder.
func (j *job) buildBase(ctx context.Context) (string, error) {
	base := j.path("base", ".mp4")

	ok, err := j.exec(ctx, "copy remux", j.builder.CopyRemux(j.inputPath, base, j.hasVideo, j.hasAudio))
	if err != nil {
		return "", err
	}
	if ok {
		valid, err := j.validate(ctx, base, false)
		if err != nil {
			return "", err
		}
		if valid {
			j.note("copy remux validated")
			return base, nil
		}
		j.note("copy remux output failed validation")
	} else {
		j.note("copy remux failed")
	}

	ladder := []attempt{
		{label: "re-encode h264/aac", args: j.builder.EncodeH264(j.inputPath, base, j.hasVideo, j.hasAudio)},
		{label: "re-encode mpeg4/aac", args: j.builder.EncodeMPEG4(j.inputPath, base, j.hasVideo, j.hasAudio)},
	}
	for _, att := range ladder {
		metrics.RemuxFallbacks.Inc()
		ok, err := j.exec(ctx, att.label, att.args)
		if err != nil {
			return "", err
		}
		if !ok {
			j.note("%s did not produce an output", att.label)
			continue
		}
		valid, err := j.validate(ctx, base, false)
		if err != nil {
			return "", err
		}
		if valid {
			j.note("%s validated", att.label)
			return base, nil
		}
		j.note("%s output failed validation", att.label)
	}

	j.diagnose(ctx, base)
	return "", &errpkg.RemuxError{
		Message: "base MP4 could not be produced after stream copy and both re-encode fallbacks",
		Trace:   j.trace.Tail(traceTailLines),
	}
}

// embedCaptions builds a standalone subtitle track and muxes it with the base
// MP4. A track that cannot be built downgrades the job to no captions; a mux
// that cannot be validated is a terminal CaptionEmbedError since the caller
// asked for captions explicitly.
func (j *job) embedCaptions(ctx context.Context, base string, caption *domain.CaptionTrack) (string, bool, error) {
	vtt := subtitle.EnsureWebVTT(caption.Content)
	srt := subtitle.ConvertToSRT(vtt)

	vttPath := j.path("captions", ".vtt")
	srtPath := j.path("captions", ".srt")
	if err := os.WriteFile(vttPath, []byte(vtt), 0o644); err != nil {
		return "", false, fmt.Errorf("write webvtt: %w", err)
	}
	if err := os.WriteFile(srtPath, []byte(srt), 0o644); err != nil {
		return "", false, fmt.Errorf("write srt: %w", err)
	}

	// The runner's subtitle demuxers disagree on which representation parses
	// a given file reliably; try WebVTT first, then the SRT rendering.
	subsPath := j.path("subs", ".mp4")
	sources := []attempt{
		{label: "build subtitle track from webvtt", args: j.builder.SubtitleTrack(vttPath, subsPath)},
		{label: "build subtitle track from srt", args: j.builder.SubtitleTrack(srtPath, subsPath)},
	}
	built := false
	for _, src := range sources {
		ok, err := j.exec(ctx, src.label, src.args)
		if err != nil {
			return "", false, err
		}
		if !ok {
			continue
		}
		ok, err = j.exec(ctx, "verify subtitle track", j.builder.StreamProbe(subsPath, ffmpeg.StreamSubtitle))
		if err != nil {
			return "", false, err
		}
		if ok {
			built = true
			break
		}
	}
	if !built {
		j.note("subtitle track could not be built, continuing without captions")
		return "", false, nil
	}

	final := j.path("final", ".mp4")
	ladder := []attempt{
		{
			label: "caption mux (stream copy)",
			args:  j.builder.CaptionMux(base, subsPath, final, caption.Language, j.hasVideo, j.hasAudio),
		},
		{
			label: "caption mux (h264 re-encode)",
			args: j.builder.CaptionMuxEncode(base, subsPath, final, caption.Language, j.hasVideo, j.hasAudio,
				[]string{"-c:v", "libx264", "-preset", "veryfast", "-crf", "23"}),
		},
		{
			label: "caption mux (mpeg4 re-encode)",
			args: j.builder.CaptionMuxEncode(base, subsPath, final, caption.Language, j.hasVideo, j.hasAudio,
				[]string{"-c:v", "mpeg4", "-q:v", "5"}),
		},
	}
	for _, att := range ladder {
		ok, err := j.exec(ctx, att.label, att.args)
		if err != nil {
			return "", false, err
		}
		if !ok {
			continue
		}
		valid, err := j.validate(ctx, final, true)
		if err != nil {
			return "", false, err
		}
		if valid {
			j.note("%s validated", att.label)
			return final, true, nil
		}
		j.note("%s output failed validation", att.label)
	}

	j.diagnose(ctx, final)
	return "", false, &errpkg.CaptionEmbedError{
		Message: "caption mux could not be validated after stream copy and re-encode fallbacks",
	}
}

// validate checks that the file both contains the expected streams and is
// decodable for a bounded window.
func (j *job) validate(ctx context.Context, path string, wantSubtitle bool) (bool, error) {
	if j.hasVideo {
		ok, err := j.exec(ctx, "validate video stream", j.builder.StreamProbe(path, ffmpeg.StreamVideo))
		if err != nil || !ok {
			return false, err
		}
	}
	if j.hasAudio {
		ok, err := j.exec(ctx, "validate audio stream", j.builder.StreamProbe(path, ffmpeg.StreamAudio))
		if err != nil || !ok {
			return false, err
		}
	}
	if wantSubtitle {
		ok, err := j.exec(ctx, "validate subtitle stream", j.builder.StreamProbe(path, ffmpeg.StreamSubtitle))
		if err != nil || !ok {
			return false, err
		}
	}
	return j.exec(ctx, "validate decodability", j.builder.DecodeCheck(path))
}

// exec runs one command, recording it in the trace and the debug log. A
// non-zero exit is an ordinary false result; the error return is reserved for
// cancellation and runner-level failures (e.g. a missing binary).
func (j *job) exec(ctx context.Context, label string, args []string) (bool, error) {
	res, err := j.runner.Run(ctx, args)
	command := strings.Join(args, " ")

	if err != nil {
		if errpkg.IsCanceled(err) {
			return false, &errpkg.CanceledError{Stage: label}
		}
		j.trace.Append(ffmpeg.TraceEntry{
			Command:    command,
			OK:         false,
			ExitStatus: -1,
			StderrTail: res.Stderr,
			StdoutTail: res.Stdout,
		})
		return false, fmt.Errorf("%s: %w", label, err)
	}

	j.trace.Append(ffmpeg.TraceEntry{
		Command:    command,
		OK:         res.OK(),
		ExitStatus: res.ExitCode,
		StderrTail: res.Stderr,
		StdoutTail: res.Stdout,
	})
	j.note("%s: exit %d", label, res.ExitCode)
	return res.OK(), nil
}

// diagnose enriches the debug log with input probes and file sizes after a
// terminal failure. It never influences control flow.
func (j *job) diagnose(ctx context.Context, outputPath string) {
	if in, err := os.Stat(j.inputPath); err == nil {
		j.note("input size: %d bytes", in.Size())
	}
	if outputPath != "" {
		if out, err := os.Stat(outputPath); err == nil {
			j.note("output size: %d bytes", out.Size())
		}
	}

	if _, err := j.exec(ctx, "diagnose input", j.builder.FullProbe(j.inputPath)); err != nil {
		return
	}
	if j.hasVideo {
		if _, err := j.exec(ctx, "diagnose video decode", j.builder.DecodeOnly(j.inputPath, ffmpeg.StreamVideo)); err != nil {
			return
		}
	}
	if j.hasAudio {
		if _, err := j.exec(ctx, "diagnose audio decode", j.builder.DecodeOnly(j.inputPath, ffmpeg.StreamAudio)); err != nil {
			return
		}
	}
}

func (j *job) path(base, ext string) string {
	return filepath.Join(j.dir, fmt.Sprintf("%s-%s%s", base, j.id, ext))
}

func (j *job) note(format string, args ...any) {
	if len(j.debug) >= maxDebugLines {
		j.debug = j.debug[1:]
	}
	line := fmt.Sprintf(format, args...)
	j.debug = append(j.debug, line)
	if j.logger != nil {
		j.logger.Debug("remux", "job", j.id, "step", line)
	}
}

// cleanup removes every per-job scratch artifact, success or failure.
func (j *job) cleanup() {
	if err := os.RemoveAll(j.dir); err != nil && j.logger != nil {
		j.logger.Warn("failed to remove scratch directory", "dir", j.dir, "error", err)
	}
}
