package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/domain"
	errpkg "github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/errors"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/fetch"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/metrics"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/resolve"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/storage"
)

// Stage labels reported through the progress callback.
const (
	StageProbing     = "probing size"
	StageDownloading = "downloading"
	StageCaptions    = "fetching captions"
	StageRemuxing    = "remuxing"
	StageSaving      = "saving"
)

// Remuxer converts a raw transport-stream blob into a playable MP4,
// optionally embedding a caption track.
type Remuxer interface {
	Remux(ctx context.Context, input []byte, outputName string, caption *domain.CaptionTrack) (*domain.RemuxResult, error)
}

// CredentialsProvider returns the current session credentials. The pipeline
// reads them fresh at the start of every job so a mid-run credential refresh
// takes effect on the next item.
type CredentialsProvider func() resolve.Credentials

// Pipeline runs one download job end-to-end: size probe, ranged stream
// fetch, optional caption fetch, remux, save. A single mutex serializes
// jobs; the remux engine is not safe for concurrent use and the shared
// credential material must not interleave between jobs.
type Pipeline struct {
	mu sync.Mutex

	fetcher      *fetch.Client
	remuxer      Remuxer
	storage      *storage.FileStorage
	credentials  CredentialsProvider
	probeRetries int
	logger       *slog.Logger
}

func NewPipeline(fetcher *fetch.Client, remuxer Remuxer, store *storage.FileStorage, creds CredentialsProvider, probeRetries int, logger *slog.Logger) *Pipeline {
	if probeRetries < 0 {
		probeRetries = 0
	}
	return &Pipeline{
		fetcher:      fetcher,
		remuxer:      remuxer,
		storage:      store,
		credentials:  creds,
		probeRetries: probeRetries,
		logger:       logger,
	}
}

// Run executes the full pipeline for one item. Cancellation at any stage
// boundary surfaces as a CanceledError naming the stage that was aborted.
func (p *Pipeline) Run(ctx context.Context, item domain.QueueItem, progress func(stage string)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if progress == nil {
		progress = func(string) {}
	}

	creds := p.credentials()
	if err := creds.Validate(); err != nil {
		return err
	}

	params := fetch.StreamParams{
		Format: item.VideoType,
		RID:    item.RID,
		SToken: creds.SToken,
		ETime:  creds.ETime,
	}

	outputName := storage.SanitizeFileName(item.FileName)
	if item.RemuxToMP4 {
		outputName = storage.WithExt(outputName, ".mp4")
	}
	if p.storage.Exists(outputName) {
		size, _ := p.storage.Size(outputName)
		p.logger.Warn("output already on disk, replacing it", "key", item.Key, "file", outputName, "bytes", size)
	}

	if err := checkCanceled(ctx, StageProbing); err != nil {
		return err
	}
	progress(StageProbing)
	total, err := p.fetcher.ProbeSize(ctx, params, p.probeRetries)
	if err != nil {
		return err
	}
	p.logger.Info("stream size probed", "key", item.Key, "bytes", total)

	if err := checkCanceled(ctx, StageDownloading); err != nil {
		return err
	}
	progress(StageDownloading)
	raw, err := p.fetcher.FetchStream(ctx, params, total)
	if err != nil {
		return err
	}

	if !item.RemuxToMP4 {
		progress(StageSaving)
		path, err := p.storage.Save(outputName, raw)
		if err != nil {
			return fmt.Errorf("save raw stream: %w", err)
		}
		p.logger.Info("raw stream saved", "key", item.Key, "path", path)
		return nil
	}

	caption := p.fetchCaption(ctx, item, creds)
	if err := checkCanceled(ctx, StageRemuxing); err != nil {
		return err
	}

	progress(StageRemuxing)
	result, err := p.remuxer.Remux(ctx, raw, outputName, caption)
	if err != nil {
		return err
	}
	if caption != nil && !result.CaptionsEmbedded {
		metrics.CaptionDowngrades.Inc()
		p.logger.Warn("captions dropped during remux", "key", item.Key)
	}

	if err := checkCanceled(ctx, StageSaving); err != nil {
		return err
	}
	progress(StageSaving)
	path, err := p.storage.Save(outputName, result.Blob)
	if err != nil {
		return fmt.Errorf("save remuxed output: %w", err)
	}
	p.logger.Info("download complete", "key", item.Key, "path", path, "captions", result.CaptionsEmbedded)
	return nil
}

// fetchCaption retrieves the item's caption track when requested. Fetch
// failures downgrade to a caption-less download; only the remux engine can
// escalate a caption problem into a job failure.
func (p *Pipeline) fetchCaption(ctx context.Context, item domain.QueueItem, creds resolve.Credentials) *domain.CaptionTrack {
	if !item.EmbedCaptions || strings.TrimSpace(item.CaptionSrc) == "" {
		return nil
	}

	track, err := p.fetcher.FetchCaption(ctx, item.CaptionSrc, item.CaptionLanguage, creds.BearerToken)
	if err != nil {
		metrics.CaptionDowngrades.Inc()
		p.logger.Warn("caption fetch failed, continuing without captions", "key", item.Key, "error", err)
		return nil
	}
	return track
}

func checkCanceled(ctx context.Context, stage string) error {
	if ctx.Err() != nil {
		return &errpkg.CanceledError{Stage: stage}
	}
	return nil
}
