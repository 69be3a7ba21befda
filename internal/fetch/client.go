package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/domain"
	errpkg "github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/errors"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/metrics"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/subtitle"
)

// StreamParams identifies one recording stream on the remote endpoint.
type StreamParams struct {
	Format string
	RID    string
	SToken string
	ETime  string
}

// Client talks to the streaming endpoint and the caption origins.
type Client struct {
	httpClient  *http.Client
	streamURL   string
	contentBase string
	apiBase     string
	logger      *slog.Logger
}

// NewClient creates a Client. httpClient may be nil, in which case the
// default client is used (no timeout: lecture streams can take arbitrarily
// long, cancellation is the caller's context).
func NewClient(httpClient *http.Client, streamURL, contentBase, apiBase string, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient:  httpClient,
		streamURL:   strings.TrimRight(streamURL, "/"),
		contentBase: strings.TrimRight(contentBase, "/"),
		apiBase:     strings.TrimRight(apiBase, "/"),
		logger:      logger,
	}
}

func (c *Client) streamRequestURL(p StreamParams) string {
	q := url.Values{}
	q.Set("f", p.Format)
	q.Set("rid", p.RID)
	q.Set("stoken", p.SToken)
	q.Set("etime", p.ETime)
	return c.streamURL + "?" + q.Encode()
}

// ProbeSize discovers the total byte length of a stream from the
// Content-Range header of an un-ranged GET. Non-OK responses are retried up
// to maxRetries times; the retries exist for endpoint flakiness, so no
// backoff is applied.
func (c *Client) ProbeSize(ctx context.Context, p StreamParams, maxRetries int) (int64, error) {
	var lastStatus string

	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return 0, &errpkg.CanceledError{Stage: "size probe"}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamRequestURL(p), nil)
		if err != nil {
			return 0, fmt.Errorf("create size probe request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, &errpkg.CanceledError{Stage: "size probe"}
			}
			lastStatus = err.Error()
			continue
		}

		header := resp.Header.Get("Content-Range")
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastStatus = resp.Status
			c.logger.Warn("size probe got unexpected status", "rid", p.RID, "status", resp.Status, "attempt", i+1)
			continue
		}

		if header == "" {
			return 0, &errpkg.ProtocolError{Op: "size probe", Detail: "missing Content-Range header"}
		}
		total, err := parseContentRangeTotal(header)
		if err != nil {
			return 0, &errpkg.ProtocolError{Op: "size probe", Detail: err.Error()}
		}

		c.logger.Debug("stream size probed", "rid", p.RID, "bytes", total)
		return total, nil
	}

	return 0, &errpkg.ProtocolError{
		Op:     "size probe",
		Detail: fmt.Sprintf("no successful response after %d attempts, last: %s", maxRetries+1, lastStatus),
	}
}

// parseContentRangeTotal extracts the total length suffix after "/" from a
// Content-Range header such as "bytes */1048576" or "bytes 0-99/1048576".
func parseContentRangeTotal(header string) (int64, error) {
	idx := strings.LastIndexByte(header, '/')
	if idx < 0 || idx == len(header)-1 {
		return 0, fmt.Errorf("unparseable Content-Range header %q", header)
	}
	suffix := header[idx+1:]
	if suffix == "*" {
		return 0, fmt.Errorf("Content-Range header %q carries no total length", header)
	}
	total, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil || total < 0 {
		return 0, fmt.Errorf("invalid total length in Content-Range header %q", header)
	}
	return total, nil
}

// FetchStream downloads the full stream with an explicit byte-exact range.
// The origin requires the range to return the complete stream reliably, so
// any response other than 206 Partial Content is a protocol error.
func (c *Client) FetchStream(ctx context.Context, p StreamParams, totalBytes int64) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, &errpkg.CanceledError{Stage: "stream fetch"}
	}
	if totalBytes <= 0 {
		return nil, &errpkg.ProtocolError{Op: "stream fetch", Detail: "stream size must be probed before fetching"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamRequestURL(p), nil)
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", totalBytes-1))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &errpkg.CanceledError{Stage: "stream fetch"}
		}
		return nil, fmt.Errorf("stream fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return nil, &errpkg.ProtocolError{
			Op:     "stream fetch",
			Detail: fmt.Sprintf("expected 206 Partial Content, got %s", resp.Status),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &errpkg.CanceledError{Stage: "stream fetch"}
		}
		return nil, fmt.Errorf("read stream body: %w", err)
	}

	metrics.DownloadBytes.Add(float64(len(data)))
	c.logger.Debug("stream fetched", "rid", p.RID, "bytes", len(data))
	return data, nil
}

// FetchCaption resolves a caption source against the known origins and
// fetches the first URL/auth combination yielding a non-empty body. Caption
// links are inconsistently rooted, and some caption assets are public while
// others 401 on an irrelevant bearer token, so every URL is tried with the
// Authorization header first and then without. Exhaustion surfaces as
// CaptionUnavailableError, which callers downgrade rather than abort on.
func (c *Client) FetchCaption(ctx context.Context, src, language, bearerToken string) (*domain.CaptionTrack, error) {
	var lastErr error

	for _, u := range c.captionURLs(src) {
		for _, auth := range captionAuthModes(bearerToken) {
			if ctx.Err() != nil {
				return nil, &errpkg.CanceledError{Stage: "caption fetch"}
			}

			body, err := c.fetchCaptionOnce(ctx, u, auth)
			if err != nil {
				lastErr = err
				continue
			}

			return &domain.CaptionTrack{
				Content:  subtitle.EnsureWebVTT(body),
				Language: language,
			}, nil
		}
	}

	return nil, &errpkg.CaptionUnavailableError{Err: lastErr}
}

func (c *Client) fetchCaptionOnce(ctx context.Context, u, bearerToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create caption request: %w", err)
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("caption fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("caption fetch %s: unexpected status %s", u, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read caption body %s: %w", u, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", fmt.Errorf("caption fetch %s: %w", u, errpkg.ErrEmptyCaption)
	}

	return string(data), nil
}

// captionURLs expands a possibly relative caption source against the content
// host and the API host.
func (c *Client) captionURLs(src string) []string {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return []string{src}
	}
	path := "/" + strings.TrimLeft(src, "/")
	return []string{c.contentBase + path, c.apiBase + path}
}

func captionAuthModes(bearerToken string) []string {
	if bearerToken == "" {
		return []string{""}
	}
	return []string{bearerToken, ""}
}
