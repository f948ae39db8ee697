package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bnema/transcoder/internal/adapter/http/validation"
	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/infrastructure/logger"
	"github.com/bnema/transcoder/internal/port"
	"github.com/bnema/transcoder/internal/queue"
	"github.com/bnema/transcoder/internal/service"
)

const defaultDeadLetterLimit = 50

type Handlers struct {
	jobs    port.JobStore
	files   port.FileStore
	svc     JobService
	queue   DeadLetterSource
	health  func(ctx context.Context) error
	storage string
}

func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		jobs:    deps.Jobs,
		files:   deps.Files,
		svc:     deps.Service,
		queue:   deps.Queue,
		health:  deps.Health,
		storage: deps.Storage,
	}
}

type jobView struct {
	*domain.Job
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	InputFile   *domain.File `json:"input_file,omitempty"`
	OutputFile  *domain.File `json:"output_file,omitempty"`
}

func (h *Handlers) view(ctx context.Context, j *domain.Job) jobView {
	v := jobView{Job: j}
	if j.StartedAt.Valid {
		v.StartedAt = &j.StartedAt.Time
	}
	if j.CompletedAt.Valid {
		v.CompletedAt = &j.CompletedAt.Time
	}
	if f, err := h.files.GetFile(ctx, j.InputFileID); err == nil {
		v.InputFile = f
	}
	if j.OutputFileID != "" {
		if f, err := h.files.GetFile(ctx, j.OutputFileID); err == nil {
			v.OutputFile = f
		}
	}
	return v
}

// ownedJob loads a job of the calling user. Jobs of other users are reported
// as missing.
func ownedJob(ctx context.Context, jobs port.JobStore, user, id string) (*domain.Job, error) {
	j, err := jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.UserID != user {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

func (h *Handlers) ownedFile(ctx context.Context, user, id string) (*domain.File, error) {
	f, err := h.files.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.UserID != user {
		return nil, domain.ErrNotFound
	}
	return f, nil
}

func (h *Handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.health != nil {
			if err := h.health(r.Context()); err != nil {
				logger.Warn.Printf("health check: %v", err)
				respondError(w, http.StatusServiceUnavailable, "UNHEALTHY", err.Error())
				return
			}
		}
		respond(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (h *Handlers) Formats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]any{
			"audio":   domain.AudioFormats,
			"video":   domain.VideoFormats,
			"quality": domain.Qualities,
		})
	}
}

type submitRequest struct {
	InputPath     string            `json:"inputPath"`
	OriginalName  string            `json:"originalName"`
	MimeType      string            `json:"mimeType"`
	OutputFormat  string            `json:"outputFormat"`
	QualityPreset string            `json:"qualityPreset"`
	Options       domain.JobOptions `json:"options"`
}

type submitURLRequest struct {
	URL           string            `json:"url"`
	OutputFormat  string            `json:"outputFormat"`
	QualityPreset string            `json:"qualityPreset"`
	Options       domain.JobOptions `json:"options"`
}

type submissionView struct {
	File *domain.File `json:"file"`
	Job  jobView      `json:"job"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondErr(w, r, err)
			return false
		}
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body: "+err.Error())
		return false
	}
	return true
}

func (h *Handlers) Submit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if !decode(w, r, &req) {
			return
		}
		if req.InputPath == "" {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "inputPath is required")
			return
		}

		name := req.OriginalName
		if name != "" {
			name = validation.SanitizeFilename(name)
		}

		sub, err := h.svc.Submit(r.Context(), service.SubmitRequest{
			UserID:       userID(r),
			InputPath:    req.InputPath,
			OriginalName: name,
			MimeType:     req.MimeType,
			OutputFormat: req.OutputFormat,
			Quality:      req.QualityPreset,
			Options:      req.Options,
		})
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respond(w, http.StatusCreated, submissionView{File: sub.File, Job: h.view(r.Context(), sub.Job)})
	}
}

func (h *Handlers) SubmitURL() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitURLRequest
		if !decode(w, r, &req) {
			return
		}
		u, err := url.Parse(req.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "url must be an absolute http(s) URL")
			return
		}

		sub, err := h.svc.SubmitURL(r.Context(), service.URLRequest{
			UserID:       userID(r),
			URL:          req.URL,
			OutputFormat: req.OutputFormat,
			Quality:      req.QualityPreset,
			Options:      req.Options,
		})
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respond(w, http.StatusCreated, submissionView{File: sub.File, Job: h.view(r.Context(), sub.Job)})
	}
}

func (h *Handlers) Retry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := ownedJob(r.Context(), h.jobs, userID(r), id); err != nil {
			respondErr(w, r, err)
			return
		}
		job, err := h.svc.Retry(r.Context(), id)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respond(w, http.StatusOK, h.view(r.Context(), job))
	}
}

func (h *Handlers) ListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := port.JobFilter{UserID: userID(r)}

		if s := r.URL.Query().Get("status"); s != "" {
			filter.Status = domain.JobStatus(s)
			if !filter.Status.Valid() {
				respondError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("unknown status %q", s))
				return
			}
		}
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
				return
			}
			filter.Limit = n
		}

		jobs, err := h.jobs.ListJobs(r.Context(), filter)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		views := make([]jobView, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, h.view(r.Context(), j))
		}
		respond(w, http.StatusOK, views)
	}
}

func (h *Handlers) GetJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := ownedJob(r.Context(), h.jobs, userID(r), chi.URLParam(r, "id"))
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respond(w, http.StatusOK, h.view(r.Context(), job))
	}
}

func (h *Handlers) Metadata() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := h.ownedFile(r.Context(), userID(r), chi.URLParam(r, "id"))
		if err != nil {
			respondErr(w, r, err)
			return
		}
		meta, err := h.files.GetMetadata(r.Context(), f.ID)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respond(w, http.StatusOK, meta)
	}
}

// Download streams a stored file under its original name.
func (h *Handlers) Download() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := h.ownedFile(r.Context(), userID(r), chi.URLParam(r, "id"))
		if err != nil {
			respondErr(w, r, err)
			return
		}
		h.serveFile(w, r, f.StoragePath, f.OriginalName, f.MimeType, false)
	}
}

func (h *Handlers) Thumbnail() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := h.ownedFile(r.Context(), userID(r), chi.URLParam(r, "id"))
		if err != nil {
			respondErr(w, r, err)
			return
		}
		meta, err := h.files.GetMetadata(r.Context(), f.ID)
		if err != nil || meta.ThumbnailPath == "" {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "thumbnail not found")
			return
		}
		h.serveFile(w, r, meta.ThumbnailPath, filepath.Base(meta.ThumbnailPath), "image/jpeg", true)
	}
}

func (h *Handlers) serveFile(w http.ResponseWriter, r *http.Request, path, name, mime string, inline bool) {
	fh, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error.Printf("open %s: %v", path, err)
		}
		respondError(w, http.StatusNotFound, "GONE", "file no longer available")
		return
	}
	defer fh.Close() //nolint:errcheck

	info, err := fh.Stat()
	if err != nil || !info.Mode().IsRegular() {
		respondError(w, http.StatusNotFound, "GONE", "file no longer available")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", validation.ContentDisposition(name, inline))
	http.ServeContent(w, r, name, info.ModTime(), fh)
}

// DeadLetters lists the caller's jobs whose deliveries exhausted their
// attempts.
func (h *Handlers) DeadLetters() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.queue == nil {
			respond(w, http.StatusOK, []any{})
			return
		}
		limit := defaultDeadLetterLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				limit = n
			}
		}

		dead, err := h.queue.DeadLetters(r.Context(), limit)
		if err != nil {
			respondErr(w, r, fmt.Errorf("%w: %v", domain.ErrTransportUnavailable, err))
			return
		}

		user := userID(r)
		out := make([]queue.DeadLetter, 0, len(dead))
		for _, d := range dead {
			if j, err := h.jobs.GetJob(r.Context(), d.Payload.JobID); err == nil && j.UserID == user {
				out = append(out, d)
			}
		}
		respond(w, http.StatusOK, out)
	}
}

// Upload stores a multipart media upload and submits a job for it. Form
// fields: file, outputFormat, qualityPreset and an optional JSON options.
func (h *Handlers) Upload(maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondErr(w, r, err)
				return
			}
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll() //nolint:errcheck

		file, header, err := r.FormFile("file")
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "missing file field")
			return
		}
		defer file.Close() //nolint:errcheck

		if header.Size > maxBytes {
			respondError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "file too large")
			return
		}

		mimeType, err := validation.ValidateMedia(file)
		if err != nil {
			respondErr(w, r, err)
			return
		}

		var opts domain.JobOptions
		if raw := r.FormValue("options"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &opts); err != nil {
				respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "options must be a JSON object")
				return
			}
		}

		name := validation.SanitizeFilename(header.Filename)
		path, err := h.store(file, name)
		if err != nil {
			respondErr(w, r, err)
			return
		}

		sub, err := h.svc.Submit(r.Context(), service.SubmitRequest{
			UserID:       userID(r),
			InputPath:    path,
			OriginalName: name,
			MimeType:     mimeType,
			OutputFormat: r.FormValue("outputFormat"),
			Quality:      r.FormValue("qualityPreset"),
			Options:      opts,
		})
		if err != nil {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				logger.Warn.Printf("remove rejected upload %s: %v", path, rmErr)
			}
			respondErr(w, r, err)
			return
		}
		logger.Info.Printf("upload %s stored as %s for job %s",
			logger.SanitizeForLog(name), filepath.Base(path), sub.Job.ID)
		respond(w, http.StatusCreated, submissionView{File: sub.File, Job: h.view(r.Context(), sub.Job)})
	}
}

// store copies an upload into the storage directory under a generated name
// and returns its absolute path.
func (h *Handlers) store(src io.Reader, name string) (string, error) {
	dir, err := filepath.Abs(h.storage)
	if err != nil {
		return "", fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create storage dir: %w", err)
	}

	path := filepath.Join(dir, validation.StoredName(name))
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close upload: %w", err)
	}
	return path, nil
}
