package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ferret/internal/capability"
	"ferret/internal/scheduler"
	"ferret/internal/search"
	"ferret/internal/store"
)

// Query input types. Voice and image queries carry a file path that is
// converted to text before searching.
const (
	InputText  = "text"
	InputVoice = "voice"
	InputImage = "image"
)

// Server is the HTTP front end over the scheduler, the search engine, and
// the metadata store.
type Server struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	engine    *search.Engine
	provider  capability.Provider
	logger    *slog.Logger
}

// New wires the handlers onto their dependencies.
func New(st *store.Store, sched *scheduler.Scheduler, eng *search.Engine, provider capability.Provider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: st, scheduler: sched, engine: eng, provider: provider, logger: logger}
}

// Handler returns the routed handler for the whole API surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /index/create", s.handleIndexCreate)
	mux.HandleFunc("POST /index/update", s.handleIndexUpdate)
	mux.HandleFunc("GET /index/status/{id}", s.handleIndexStatus)
	mux.HandleFunc("POST /index/{id}/stop", s.handleIndexStop)
	mux.HandleFunc("DELETE /index/{id}", s.handleIndexDelete)
	mux.HandleFunc("GET /index/files", s.handleIndexFiles)
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

type searchRequest struct {
	Query     string   `json:"query"`
	InputType string   `json:"input_type"`
	Mode      string   `json:"search_type"`
	Limit     int      `json:"limit"`
	Threshold float64  `json:"threshold"`
	FileTypes []string `json:"file_types"`
}

type searchResponse struct {
	Results    []search.Result `json:"results"`
	Total      int             `json:"total"`
	Degraded   bool            `json:"degraded"`
	SearchTime float64         `json:"search_time"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	query, err := s.resolveQuery(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	resp, err := s.engine.Search(r.Context(), search.Request{
		Query:     query,
		Mode:      req.Mode,
		Limit:     req.Limit,
		Threshold: req.Threshold,
		FileTypes: req.FileTypes,
	})
	if errors.Is(err, search.ErrBadMode) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Results:    resp.Results,
		Total:      resp.Total,
		Degraded:   resp.Degraded,
		SearchTime: time.Since(start).Seconds(),
	})
}

// resolveQuery turns a voice or image query into searchable text. For those
// input types Query carries the path of the media file.
func (s *Server) resolveQuery(ctx context.Context, req searchRequest) (string, error) {
	switch req.InputType {
	case "", InputText:
		return req.Query, nil
	case InputVoice:
		text, err := s.provider.Transcriber().Transcribe(ctx, req.Query)
		if err != nil {
			return "", errors.New("transcribe voice query: " + err.Error())
		}
		return text, nil
	case InputImage:
		text, err := s.provider.Describer().Describe(ctx, req.Query)
		if err != nil {
			return "", errors.New("describe image query: " + err.Error())
		}
		return text, nil
	default:
		return "", errors.New("unknown input_type " + strconv.Quote(req.InputType))
	}
}

type indexRequest struct {
	FolderPath string   `json:"folder_path"`
	FileTypes  []string `json:"file_types"`
	Recursive  bool     `json:"recursive"`
	Priority   int      `json:"priority"`
}

func (s *Server) handleIndexCreate(w http.ResponseWriter, r *http.Request) {
	s.enqueueScan(w, r, store.JobOpCreate)
}

func (s *Server) handleIndexUpdate(w http.ResponseWriter, r *http.Request) {
	s.enqueueScan(w, r, store.JobOpUpdate)
}

func (s *Server) enqueueScan(w http.ResponseWriter, r *http.Request, op string) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FolderPath == "" {
		writeError(w, http.StatusBadRequest, "folder_path is required")
		return
	}

	job, err := s.scheduler.Enqueue(scheduler.Request{
		Target:     req.FolderPath,
		Op:         op,
		Priority:   req.Priority,
		Recursive:  req.Recursive,
		Extensions: req.FileTypes,
	})
	switch {
	case errors.Is(err, scheduler.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.logger.Error("enqueue failed", "op", op, "target", req.FolderPath, "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"index_id": job.ID})
	}
}

type jobStatus struct {
	ID          string  `json:"id"`
	Target      string  `json:"target"`
	Op          string  `json:"op"`
	Status      string  `json:"status"`
	Processed   int     `json:"processed"`
	Total       int     `json:"total"`
	CurrentFile string  `json:"current_file,omitempty"`
	Error       string  `json:"error,omitempty"`
	ErrorCount  int     `json:"error_count"`
	Retries     int     `json:"retries"`
	Progress    float64 `json:"progress"`
	CreatedAt   int64   `json:"created_at"`
	UpdatedAt   int64   `json:"updated_at"`
}

func toJobStatus(j *store.IndexJob) jobStatus {
	progress := 0.0
	if j.Total > 0 {
		progress = float64(j.Processed) / float64(j.Total)
	}
	if j.Status == store.JobStatusCompleted {
		progress = 1.0
	}
	return jobStatus{
		ID:          j.ID,
		Target:      j.Target,
		Op:          j.Op,
		Status:      j.Status,
		Processed:   j.Processed,
		Total:       j.Total,
		CurrentFile: j.CurrentFile,
		Error:       j.Error,
		ErrorCount:  j.ErrorCount,
		Retries:     j.Retries,
		Progress:    progress,
		CreatedAt:   j.CreatedAt.Unix(),
		UpdatedAt:   j.UpdatedAt.Unix(),
	}
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, toJobStatus(job))
}

func (s *Server) handleIndexStop(w http.ResponseWriter, r *http.Request) {
	err := s.scheduler.Stop(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stop failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// handleIndexDelete removes the indexed data behind a job's target by
// enqueueing a delete job for that target.
func (s *Server) handleIndexDelete(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	del, err := s.scheduler.Enqueue(scheduler.Request{Target: job.Target, Op: store.JobOpDelete})
	switch {
	case errors.Is(err, scheduler.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("enqueue delete failed", "target", job.Target, "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"index_id": del.ID})
	}
}

type fileEntry struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	IndexedAt   int64  `json:"indexed_at"`
}

func (s *Server) handleIndexFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.FileFilter{
		Status:      q.Get("status"),
		ContentType: q.Get("content_type"),
		Limit:       intParam(q.Get("limit"), 50),
		Offset:      intParam(q.Get("offset"), 0),
	}
	if dir := q.Get("directory_id"); dir != "" {
		id, err := strconv.ParseInt(dir, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "directory_id must be an integer")
			return
		}
		filter.DirectoryID = id
	}

	files, total, err := s.store.ListFiles(filter)
	if err != nil {
		s.logger.Error("list files failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	entries := make([]fileEntry, len(files))
	for i, f := range files {
		entries[i] = fileEntry{
			ID:          f.ID,
			Path:        f.Path,
			ContentType: f.ContentType,
			SizeBytes:   f.SizeBytes,
			Status:      f.Status,
			Error:       f.Error,
			IndexedAt:   unixOrZero(f.IndexedAt),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files":  entries,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
