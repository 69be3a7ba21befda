package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"LD_ENV" default:"development"`

	HTTPPort    int           `envconfig:"LD_HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"LD_HTTP_TIMEOUT" default:"15s"`

	// Remote endpoints. StreamURL serves the recording transport streams,
	// ContentBaseURL and APIBaseURL are the two origins caption links are
	// inconsistently rooted against.
	StreamURL      string `envconfig:"LD_STREAM_URL" default:"https://lrscontent.campus.example/play"`
	ContentBaseURL string `envconfig:"LD_CONTENT_BASE_URL" default:"https://lrscontent.campus.example"`
	APIBaseURL     string `envconfig:"LD_API_BASE_URL" default:"https://lrsapi.campus.example"`

	SizeProbeRetries   int `envconfig:"LD_SIZE_PROBE_RETRIES" default:"3"`
	ResolveConcurrency int `envconfig:"LD_RESOLVE_CONCURRENCY" default:"4"`

	FFmpegPath       string `envconfig:"LD_FFMPEG_PATH" default:"ffmpeg"`
	DecodeCheckSecs  int    `envconfig:"LD_DECODE_CHECK_SECS" default:"10"`
	CommandTailBytes int    `envconfig:"LD_COMMAND_TAIL_BYTES" default:"2048"`

	DownloadDir string `envconfig:"LD_DOWNLOAD_DIR" default:"./downloads"`
	StateFile   string `envconfig:"LD_STATE_FILE" default:"./state/queue.json"`
	MarkerFile  string `envconfig:"LD_MARKER_FILE" default:"./state/markers.json"`
	WorkDir     string `envconfig:"LD_WORK_DIR" default:"./tmp"`

	ShutdownTimeout time.Duration `envconfig:"LD_SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"LD_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LD_LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.StreamURL == "" {
		return fmt.Errorf("stream URL cannot be empty")
	}
	if c.ContentBaseURL == "" || c.APIBaseURL == "" {
		return fmt.Errorf("content and API base URLs cannot be empty")
	}

	if c.SizeProbeRetries < 0 {
		return fmt.Errorf("size probe retries must not be negative: %d", c.SizeProbeRetries)
	}
	if c.ResolveConcurrency <= 0 {
		return fmt.Errorf("resolve concurrency must be positive: %d", c.ResolveConcurrency)
	}
	if c.DecodeCheckSecs <= 0 {
		return fmt.Errorf("decode check window must be positive: %d", c.DecodeCheckSecs)
	}

	if c.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg path cannot be empty")
	}
	if c.DownloadDir == "" {
		return fmt.Errorf("download directory cannot be empty")
	}
	if c.StateFile == "" || c.MarkerFile == "" {
		return fmt.Errorf("state and marker files cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work directory cannot be empty")
	}

	return nil
}
