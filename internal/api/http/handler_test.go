package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/domain"
	errpkg "github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/errors"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/queue"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/resolve"
)

// fakeQueue records calls and returns scripted results.
type fakeQueue struct {
	enqueued   []domain.QueueItem
	enqueueRes bool
	state      domain.QueueState
	startErr   error
	actionErr  error
	actions    []string
}

func (f *fakeQueue) Enqueue(item domain.QueueItem) bool {
	f.enqueued = append(f.enqueued, item)
	return f.enqueueRes
}
func (f *fakeQueue) State() domain.QueueState { return f.state }
func (f *fakeQueue) Start(ctx context.Context) error {
	f.actions = append(f.actions, "start")
	return f.startErr
}
func (f *fakeQueue) Stop() { f.actions = append(f.actions, "stop") }
func (f *fakeQueue) Cancel(key string) error {
	f.actions = append(f.actions, "cancel:"+key)
	return f.actionErr
}
func (f *fakeQueue) Retry(key string) error {
	f.actions = append(f.actions, "retry:"+key)
	return f.actionErr
}
func (f *fakeQueue) RunOne(ctx context.Context, key string) error {
	f.actions = append(f.actions, "run:"+key)
	return f.actionErr
}
func (f *fakeQueue) Remove(key string) error {
	f.actions = append(f.actions, "remove:"+key)
	return f.actionErr
}
func (f *fakeQueue) Clear() { f.actions = append(f.actions, "clear") }

func newTestRouter(t *testing.T, q QueueService) (*httptest.Server, *resolve.CredentialHolder, *queue.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	store := queue.NewStore(filepath.Join(dir, "queue.json"), filepath.Join(dir, "markers.json"), logger)
	credentials := resolve.NewCredentialHolder()
	resolver := resolve.NewResolver(&http.Client{}, "http://example.invalid", 2, logger)

	router := NewRouter(context.Background(), q, resolver, store, credentials, logger)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, credentials, store
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	assert.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEnqueueEndpoint(t *testing.T) {
	q := &fakeQueue{enqueueRes: true}
	server, _, _ := newTestRouter(t, q)

	body := `{
		"courseDigit": "250",
		"rid": "rec-1",
		"fileName": "COMP 250 - Lecture 1.mp4",
		"videoType": "hd",
		"remuxToMp4": true,
		"captionSrc": "/captions/rec-1.vtt",
		"captionLanguage": "en",
		"embedCaptions": true
	}`
	resp := doJSON(t, http.MethodPost, server.URL+"/queue/items", body)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, q.enqueued, 1)

	item := q.enqueued[0]
	assert.Equal(t, "250::rec-1::hd", item.Key)
	assert.Equal(t, "v2::250::rec-1", item.DownloadMarker)
	assert.True(t, item.RemuxToMP4)
	assert.True(t, item.EmbedCaptions)

	var payload map[string]any
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "250::rec-1::hd", payload["key"])
	assert.Equal(t, true, payload["added"])
}

func TestEnqueueEndpoint_RejectsBadInput(t *testing.T) {
	q := &fakeQueue{enqueueRes: true}
	server, _, _ := newTestRouter(t, q)

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{not json`},
		{name: "missing file name", body: `{"courseDigit":"250","rid":"r","videoType":"hd"}`},
		{name: "unknown video type", body: `{"courseDigit":"250","rid":"r","fileName":"f.mp4","videoType":"8k"}`},
		{name: "bad caption src", body: `{"courseDigit":"250","rid":"r","fileName":"f.mp4","videoType":"hd","captionSrc":"ftp://x/y.vtt"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, server.URL+"/queue/items", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Empty(t, q.enqueued)
}

func TestStateEndpoint(t *testing.T) {
	q := &fakeQueue{state: domain.QueueState{
		Active: true,
		Total:  1,
		Items:  []domain.QueueItem{{Key: "250::rec-1::hd", Status: domain.StatusDownloading}},
	}}
	server, _, _ := newTestRouter(t, q)

	resp := doJSON(t, http.MethodGet, server.URL+"/queue", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var state domain.QueueState
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.True(t, state.Active)
	assert.Len(t, state.Items, 1)
}

func TestStartEndpoint(t *testing.T) {
	q := &fakeQueue{}
	server, _, _ := newTestRouter(t, q)

	resp := doJSON(t, http.MethodPost, server.URL+"/queue/start", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Contains(t, q.actions, "start")
}

func TestStartEndpoint_Conflict(t *testing.T) {
	q := &fakeQueue{startErr: errpkg.ErrQueueRunning}
	server, _, _ := newTestRouter(t, q)

	resp := doJSON(t, http.MethodPost, server.URL+"/queue/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestItemActions(t *testing.T) {
	q := &fakeQueue{}
	server, _, _ := newTestRouter(t, q)

	resp := doJSON(t, http.MethodPost, server.URL+"/queue/items/250::rec-1::hd/cancel", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, server.URL+"/queue/items/250::rec-1::hd/retry", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodDelete, server.URL+"/queue/items/250::rec-1::hd", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Contains(t, q.actions, "cancel:250::rec-1::hd")
	assert.Contains(t, q.actions, "retry:250::rec-1::hd")
	assert.Contains(t, q.actions, "remove:250::rec-1::hd")
}

func TestItemActions_NotFound(t *testing.T) {
	q := &fakeQueue{actionErr: errpkg.ErrItemNotFound}
	server, _, _ := newTestRouter(t, q)

	resp := doJSON(t, http.MethodPost, server.URL+"/queue/items/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStopAndClearEndpoints(t *testing.T) {
	q := &fakeQueue{}
	server, _, _ := newTestRouter(t, q)

	resp := doJSON(t, http.MethodPost, server.URL+"/queue/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodDelete, server.URL+"/queue", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Contains(t, q.actions, "stop")
	assert.Contains(t, q.actions, "clear")
}

func TestCredentialsEndpoint(t *testing.T) {
	server, credentials, _ := newTestRouter(t, &fakeQueue{})

	body := `{"stoken":"tok","etime":"123","bearerToken":"bearer","courses":["250"]}`
	resp := doJSON(t, http.MethodPut, server.URL+"/credentials", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got := credentials.Get()
	assert.Equal(t, "tok", got.SToken)
	assert.Equal(t, []string{"250"}, got.Courses)

	resp = doJSON(t, http.MethodPut, server.URL+"/credentials", `{"stoken":"tok"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCatalogEndpoint_RequiresCredentials(t *testing.T) {
	server, _, _ := newTestRouter(t, &fakeQueue{})

	resp := doJSON(t, http.MethodGet, server.URL+"/courses/recordings", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCatalogEndpoint_AnnotatesDownloaded(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]resolve.Recording{
			{ID: "rec-1", RecordingName: "Lecture 1"},
			{ID: "rec-2", RecordingName: "Lecture 2"},
		})
	}))
	defer catalog.Close()

	dir := t.TempDir()
	store := queue.NewStore(filepath.Join(dir, "queue.json"), filepath.Join(dir, "markers.json"), logger)
	assert.NoError(t, store.AddMarker(queue.CanonicalMarker("250", "rec-1")))

	credentials := resolve.NewCredentialHolder()
	credentials.Set(resolve.Credentials{SToken: "s", ETime: "1", BearerToken: "b", Courses: []string{"250"}})
	resolver := resolve.NewResolver(catalog.Client(), catalog.URL, 2, logger)

	router := NewRouter(context.Background(), &fakeQueue{}, resolver, store, credentials, logger)
	server := httptest.NewServer(router)
	defer server.Close()

	resp := doJSON(t, http.MethodGet, server.URL+"/courses/recordings", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got []CourseCatalogResponse
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Len(t, got, 1)
	assert.Equal(t, "250", got[0].CourseID)
	assert.Len(t, got[0].Recordings, 2)
	assert.True(t, got[0].Recordings[0].Downloaded)
	assert.False(t, got[0].Recordings[1].Downloaded)
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestRouter(t, &fakeQueue{})

	resp := doJSON(t, http.MethodGet, server.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
