package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devrayat000/media-pipeline/db"
	"github.com/devrayat000/media-pipeline/metrics"
	"github.com/devrayat000/media-pipeline/models"
	"github.com/devrayat000/media-pipeline/thumbnail"
	"github.com/devrayat000/media-pipeline/upload"
)

const (
	uploadField       = "file"
	defaultReportDays = 7
	defaultThumbLimit = 10 << 20
	eventStreamType   = "text/event-stream"
)

type MediaService interface {
	Accept(ctx context.Context, filename string, body io.Reader) (*models.MediaItem, error)
	Status(ctx context.Context, id string) (*models.MediaItem, error)
	SetThumbnailAt(ctx context.Context, id string, timestamp float64) (string, error)
	SetThumbnailUpload(ctx context.Context, id string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, id string) error
	Overview(ctx context.Context) (db.StatusCounts, error)
}

type BandwidthReporter interface {
	Summarize(ctx context.Context, window time.Duration) (models.BandwidthSummary, error)
}

// StatusFeed streams status events for one item.
type StatusFeed interface {
	Subscribe(ctx context.Context, mediaID string) (<-chan models.StatusEvent, error)
}

type Options struct {
	MaxThumbnailBytes int64
}

// Handler exposes the media and analytics endpoints.
type Handler struct {
	media     MediaService
	bandwidth BandwidthReporter
	feed      StatusFeed
	metrics   *metrics.Metrics
	opts      Options
	log       *slog.Logger
}

// NewHandler builds a Handler. feed may be nil to disable the event stream.
func NewHandler(media MediaService, bandwidth BandwidthReporter, feed StatusFeed, m *metrics.Metrics, opts Options, log *slog.Logger) *Handler {
	if opts.MaxThumbnailBytes <= 0 {
		opts.MaxThumbnailBytes = defaultThumbLimit
	}
	return &Handler{media: media, bandwidth: bandwidth, feed: feed, metrics: m, opts: opts, log: log}
}

type uploadResponse struct {
	ID       string             `json:"id"`
	Filename string             `json:"filename"`
	Kind     models.MediaKind   `json:"media_type"`
	Status   models.MediaStatus `json:"status"`
	Message  string             `json:"message"`
}

// Upload handles POST /upload with a multipart "file" part. The part is
// streamed to disk without buffering the whole body.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	part, err := filePart(r)
	if err != nil {
		h.log.Debug("invalid upload body", slog.String("error", err.Error()))
		writeMessage(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer part.Close()

	item, err := h.media.Accept(r.Context(), part.FileName(), part)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{
		ID:       item.ID,
		Filename: item.OriginalFilename,
		Kind:     item.Kind,
		Status:   item.Status,
		Message:  "upload accepted, processing started",
	})
}

// Status handles GET /upload/status/{id}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	item, err := h.media.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type thumbnailRequest struct {
	Timestamp *float64 `json:"timestamp"`
}

type thumbnailResponse struct {
	ThumbnailPath string `json:"thumbnail_path"`
}

// SetThumbnail handles POST /media/{id}/thumbnail. Body: {"timestamp": 12.5}.
func (h *Handler) SetThumbnail(w http.ResponseWriter, r *http.Request) {
	var req thumbnailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Timestamp == nil {
		writeMessage(w, http.StatusBadRequest, "timestamp is required")
		return
	}

	path, err := h.media.SetThumbnailAt(r.Context(), chi.URLParam(r, "id"), *req.Timestamp)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, thumbnailResponse{ThumbnailPath: path})
}

// UploadThumbnail handles POST /media/{id}/thumbnail/upload with a multipart
// image in the "file" part.
func (h *Handler) UploadThumbnail(w http.ResponseWriter, r *http.Request) {
	part, err := filePart(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer part.Close()

	data, err := io.ReadAll(io.LimitReader(part, h.opts.MaxThumbnailBytes+1))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "could not read image")
		return
	}

	path, err := h.media.SetThumbnailUpload(r.Context(), chi.URLParam(r, "id"), data, part.Header.Get("Content-Type"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, thumbnailResponse{ThumbnailPath: path})
}

// Delete handles DELETE /media/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.media.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Overview handles GET /media/stats/overview.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	counts, err := h.media.Overview(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

type bandwidthResponse struct {
	PeriodDays int `json:"period_days"`
	models.BandwidthSummary
}

// Bandwidth handles GET /analytics/bandwidth?days=N.
func (h *Handler) Bandwidth(w http.ResponseWriter, r *http.Request) {
	days := defaultReportDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeMessage(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	summary, err := h.bandwidth.Summarize(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bandwidthResponse{PeriodDays: days, BandwidthSummary: summary})
}

// Events handles GET /media/{id}/events as a server-sent event stream that
// ends after a terminal status.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		writeMessage(w, http.StatusNotFound, "event stream disabled")
		return
	}

	events, err := h.feed.Subscribe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", eventStreamType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.log.Warn("event stream not flushable", slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			if ev.Status.IsTerminal() {
				return
			}
		}
	}
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "api_server"})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		h.log.Error("request failed", slog.String("error", err.Error()))
		writeMessage(w, status, "internal server error")
		return
	}
	switch {
	case errors.Is(err, thumbnail.ErrUnsupportedType):
		h.metrics.IncUploadRejected("thumbnail_type")
	case errors.Is(err, thumbnail.ErrTooLarge):
		h.metrics.IncUploadRejected("thumbnail_size")
	}
	writeMessage(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrUnsupportedType), errors.Is(err, thumbnail.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, upload.ErrTooLarge), errors.Is(err, thumbnail.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, thumbnail.ErrDecode),
		errors.Is(err, upload.ErrInvalidTimestamp),
		errors.Is(err, upload.ErrNotVideo):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrSourceMissing), errors.Is(err, thumbnail.ErrNoFrame):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// filePart advances the multipart body to the upload field.
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == uploadField && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
