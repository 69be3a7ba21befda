package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lecturedl_jobs_enqueued_total",
		Help: "Total number of jobs added to the download queue",
	})

	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lecturedl_jobs_completed_total",
		Help: "Total number of jobs finished successfully",
	})

	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lecturedl_jobs_failed_total",
		Help: "Total number of jobs that ended in failure",
	})

	JobsCanceled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lecturedl_jobs_canceled_total",
		Help: "Total number of jobs canceled before or during execution",
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lecturedl_download_bytes_total",
		Help: "Total bytes fetched from the streaming endpoint",
	})

	RemuxFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lecturedl_remux_fallbacks_total",
		Help: "Total number of re-encode fallback attempts after a failed stream copy",
	})

	CaptionDowngrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lecturedl_caption_downgrades_total",
		Help: "Total number of jobs that continued without captions after a caption failure",
	})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lecturedl_job_duration_seconds",
		Help:    "End-to-end job duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)
