package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/fanout"
)

// Source is one downloadable rendition of a recording.
type Source struct {
	Label string `json:"label"`
	Res   string `json:"res,omitempty"`
}

// Caption is one caption entry attached to a recording.
type Caption struct {
	Src   string `json:"src"`
	Type  string `json:"type,omitempty"`
	Label string `json:"label,omitempty"`
}

// Recording is one recording descriptor returned by the metadata endpoint.
type Recording struct {
	ID            string    `json:"id"`
	RecordingName string    `json:"recordingName"`
	DateCreated   string    `json:"dateCreated"`
	CourseName    string    `json:"courseName"`
	Sources       []Source  `json:"sources"`
	Captions      []Caption `json:"captions,omitempty"`
}

// PreferredCaption returns the first caption entry with a non-empty src, or
// the zero Caption when none exists.
func (r Recording) PreferredCaption() Caption {
	for _, c := range r.Captions {
		if strings.TrimSpace(c.Src) != "" {
			return c
		}
	}
	return Caption{}
}

// CourseRecordings is the settled value of one course resolution.
type CourseRecordings struct {
	CourseID   string
	Recordings []Recording
}

// Resolver fetches recording catalogs for courses. Resolution has no shared
// mutable resource, so it fans out with a bounded concurrency cap instead of
// going through the sequential download pipeline.
type Resolver struct {
	httpClient  *http.Client
	apiBase     string
	concurrency int
	logger      *slog.Logger
}

func NewResolver(httpClient *http.Client, apiBase string, concurrency int, logger *slog.Logger) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Resolver{
		httpClient:  httpClient,
		apiBase:     strings.TrimRight(apiBase, "/"),
		concurrency: concurrency,
		logger:      logger,
	}
}

// ResolveCourses resolves recording catalogs for every course id, collecting
// a settled result per course so one failing course never hides the rest.
func (r *Resolver) ResolveCourses(ctx context.Context, creds Credentials, courseIDs []string) []fanout.Settled[CourseRecordings] {
	return fanout.Map(ctx, courseIDs, r.concurrency, func(ctx context.Context, courseID string) (CourseRecordings, error) {
		recs, err := r.fetchCourse(ctx, creds, courseID)
		if err != nil {
			r.logger.Warn("course resolution failed", "course", courseID, "error", err)
			return CourseRecordings{CourseID: courseID}, err
		}
		return CourseRecordings{CourseID: courseID, Recordings: recs}, nil
	})
}

func (r *Resolver) fetchCourse(ctx context.Context, creds Credentials, courseID string) ([]Recording, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/courses/%s/recordings", r.apiBase, url.PathEscape(courseID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create catalog request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.BearerToken)
	if creds.CookieHeader != "" {
		req.Header.Set("Cookie", creds.CookieHeader)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog for %s: %w", courseID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog for %s: unexpected status %s", courseID, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read catalog body for %s: %w", courseID, err)
	}

	var recordings []Recording
	if err := json.Unmarshal(data, &recordings); err != nil {
		return nil, fmt.Errorf("decode catalog for %s: %w", courseID, err)
	}

	return recordings, nil
}
