package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/domain"
	errpkg "github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/errors"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/queue"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/resolve"
	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/validation"
)

// QueueService defines the queue operations the HTTP layer drives.
type QueueService interface {
	Enqueue(item domain.QueueItem) bool
	State() domain.QueueState
	Start(ctx context.Context) error
	Stop()
	Cancel(key string) error
	Retry(key string) error
	RunOne(ctx context.Context, key string) error
	Remove(key string) error
	Clear()
}

// QueueHandler handles HTTP requests for the download queue.
type QueueHandler struct {
	queue       QueueService
	resolver    *resolve.Resolver
	store       *queue.Store
	credentials *resolve.CredentialHolder
	// baseCtx outlives individual requests so queue runs started over HTTP
	// survive the request that triggered them.
	baseCtx context.Context
	logger  *slog.Logger
}

func NewQueueHandler(baseCtx context.Context, q QueueService, resolver *resolve.Resolver, store *queue.Store, credentials *resolve.CredentialHolder, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{
		queue:       q,
		resolver:    resolver,
		store:       store,
		credentials: credentials,
		baseCtx:     baseCtx,
		logger:      logger,
	}
}

// EnqueueRequest describes one recording to download.
type EnqueueRequest struct {
	CourseDigit     string `json:"courseDigit" validate:"required"`
	RID             string `json:"rid" validate:"required"`
	FileName        string `json:"fileName" validate:"required"`
	VideoType       string `json:"videoType" validate:"required,video_type"`
	RemuxToMP4      bool   `json:"remuxToMp4"`
	CaptionSrc      string `json:"captionSrc" validate:"caption_src"`
	CaptionLanguage string `json:"captionLanguage"`
	EmbedCaptions   bool   `json:"embedCaptions"`
	RecordingName   string `json:"recordingName"`
}

// CredentialsRequest carries the session material captured by the auth
// collaborator.
type CredentialsRequest struct {
	SToken       string   `json:"stoken" validate:"required"`
	ETime        string   `json:"etime" validate:"required"`
	BearerToken  string   `json:"bearerToken" validate:"required"`
	CookieHeader string   `json:"cookieHeader"`
	Courses      []string `json:"courses"`
}

// Enqueue handles POST /queue/items.
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validation.ValidateStruct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item := domain.QueueItem{
		Key:             domain.ItemKey(req.CourseDigit, req.RID, req.VideoType),
		CourseDigit:     req.CourseDigit,
		RID:             req.RID,
		DownloadMarker:  queue.CanonicalMarker(req.CourseDigit, req.RID),
		FileName:        req.FileName,
		VideoType:       req.VideoType,
		RemuxToMP4:      req.RemuxToMP4,
		CaptionSrc:      req.CaptionSrc,
		CaptionLanguage: req.CaptionLanguage,
		EmbedCaptions:   req.EmbedCaptions,
		RecordingName:   req.RecordingName,
	}

	added := h.queue.Enqueue(item)
	h.logger.Info("enqueue request handled", "key", item.Key, "added", added)

	writeJSON(w, http.StatusCreated, map[string]any{
		"key":   item.Key,
		"added": added,
	})
}

// State handles GET /queue.
func (h *QueueHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.State())
}

// Start handles POST /queue/start.
func (h *QueueHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Start(h.baseCtx); err != nil {
		if errors.Is(err, errpkg.ErrQueueRunning) {
			writeError(w, http.StatusConflict, "queue is already running")
			return
		}
		h.logger.Error("failed to start queue", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// Stop handles POST /queue/stop.
func (h *QueueHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.queue.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

// Cancel handles POST /queue/items/{key}/cancel.
func (h *QueueHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.itemAction(w, r, h.queue.Cancel, "canceling")
}

// Retry handles POST /queue/items/{key}/retry.
func (h *QueueHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.itemAction(w, r, h.queue.Retry, "queued")
}

// RunOne handles POST /queue/items/{key}/run. The job executes in the
// background; poll GET /queue for its outcome.
func (h *QueueHandler) RunOne(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "item key is required")
		return
	}

	go func() {
		if err := h.queue.RunOne(h.baseCtx, key); err != nil {
			h.logger.Warn("single-item run rejected", "key", key, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "running", "key": key})
}

// Remove handles DELETE /queue/items/{key}.
func (h *QueueHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.itemAction(w, r, h.queue.Remove, "removed")
}

// Clear handles DELETE /queue.
func (h *QueueHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.queue.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// SetCredentials handles PUT /credentials.
func (h *QueueHandler) SetCredentials(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.credentials.Set(resolve.Credentials{
		SToken:       req.SToken,
		ETime:        req.ETime,
		BearerToken:  req.BearerToken,
		CookieHeader: req.CookieHeader,
		Courses:      req.Courses,
	})
	h.logger.Info("session credentials updated", "courses", len(req.Courses))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CourseRecordingEntry is one recording in a catalog response, annotated
// with whether it was already downloaded.
type CourseRecordingEntry struct {
	resolve.Recording
	Downloaded bool `json:"downloaded"`
}

// CourseCatalogResponse is the per-course result of a catalog resolution.
type CourseCatalogResponse struct {
	CourseID   string                 `json:"courseId"`
	Error      string                 `json:"error,omitempty"`
	Recordings []CourseRecordingEntry `json:"recordings,omitempty"`
}

// Catalog handles GET /courses/recordings: it fans out over the configured
// courses and annotates every recording with its downloaded state.
func (h *QueueHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	creds := h.credentials.Get()
	if err := creds.Validate(); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if len(creds.Courses) == 0 {
		writeJSON(w, http.StatusOK, []CourseCatalogResponse{})
		return
	}

	markers := h.store.LoadMarkers()
	settled := h.resolver.ResolveCourses(r.Context(), creds, creds.Courses)

	responses := make([]CourseCatalogResponse, 0, len(settled))
	for _, s := range settled {
		entry := CourseCatalogResponse{CourseID: s.Value.CourseID}
		if s.Err != nil {
			entry.Error = s.Err.Error()
			responses = append(responses, entry)
			continue
		}
		for _, rec := range s.Value.Recordings {
			marker := queue.CanonicalMarker(s.Value.CourseID, rec.ID)
			entry.Recordings = append(entry.Recordings, CourseRecordingEntry{
				Recording:  rec,
				Downloaded: queue.IsDownloaded(markers, marker, rec.RecordingName),
			})
		}
		responses = append(responses, entry)
	}

	writeJSON(w, http.StatusOK, responses)
}

func (h *QueueHandler) itemAction(w http.ResponseWriter, r *http.Request, action func(key string) error, status string) {
	key := chi.URLParam(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "item key is required")
		return
	}

	if err := action(key); err != nil {
		switch {
		case errors.Is(err, errpkg.ErrItemNotFound):
			writeError(w, http.StatusNotFound, "item not found")
		default:
			writeError(w, http.StatusConflict, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "key": key})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
