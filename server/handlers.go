package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"screenTimeline/config"
	"screenTimeline/core"
	"screenTimeline/session"
	"screenTimeline/storage"
)

var allowedVideoExts = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
	".mkv": true,
}

// Server wires the HTTP surface to the orchestrator and storage.
type Server struct {
	cfg      *config.Config
	orch     *session.Orchestrator
	index    storage.VectorStore
	exporter ReportExporter

	// saveUpload writes the uploaded video to disk. Tests swap it to
	// simulate write failures.
	saveUpload func(dst string, src io.Reader) error
}

func New(cfg *config.Config, orch *session.Orchestrator, index storage.VectorStore) *Server {
	return &Server{
		cfg:        cfg,
		orch:       orch,
		index:      index,
		exporter:   &TextReportExporter{ExportDir: cfg.ExportDir},
		saveUpload: saveToFile,
	}
}

func saveToFile(dst string, src io.Reader) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Routes registers all handlers on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", s.uploadHandler)
	mux.HandleFunc("/status/", s.statusHandler)
	mux.HandleFunc("/results/", s.resultsHandler)
	mux.HandleFunc("/export/", s.exportHandler)
	mux.HandleFunc("/download/", s.downloadHandler)
	mux.HandleFunc("/session/", s.sessionHandler)
	mux.HandleFunc("/query", s.queryHandler)
	mux.HandleFunc("/configure/sensitivity", s.sensitivityHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.cfg.DataDir))))
	return mux
}

func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadMB<<20)
	file, header, err := r.FormFile("video")
	if err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "video file required"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedVideoExts[ext] {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unsupported format %q, expected one of: .mp4 .avi .mov .mkv", ext),
		})
		return
	}

	id, dir, err := s.orch.CreateSession(header.Filename)
	if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
		return
	}
	videoPath := filepath.Join(dir, "source"+ext)
	if err := s.saveUpload(videoPath, file); err != nil {
		// Without the video there is nothing to process; drop the session
		// record and its directory rather than leaving them orphaned.
		s.orch.Delete(r.Context(), id)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save upload"})
		return
	}

	if err := s.orch.Start(id, videoPath); err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	log.Printf("session %s: uploaded %s (%d bytes)", id, header.Filename, header.Size)
	core.WriteJSON(w, http.StatusOK, map[string]string{
		"session_id": id,
		"status":     string(core.StateUploaded),
		"message":    "processing started",
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/status/")
	st, err := s.orch.Status(id)
	if err != nil {
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	core.WriteJSON(w, http.StatusOK, st)
}

// segmentView adds the rendered time range and duration and rewrites the
// screenshot to its public URL.
type segmentView struct {
	core.TimelineSegment
	FormattedTimeRange string  `json:"formatted_time_range"`
	DurationSec        float64 `json:"duration"`
}

type metaView struct {
	core.VideoMeta
	TotalSegments int       `json:"total_segments"`
	ProcessedAt   time.Time `json:"processed_at"`
}

type resultView struct {
	SessionID string             `json:"session_id"`
	Meta      metaView           `json:"metadata"`
	Segments  []segmentView      `json:"timeline_segments"`
	Stats     core.TimelineStats `json:"stats"`
}

func (s *Server) viewOf(res *core.TimelineResult) resultView {
	view := resultView{
		SessionID: res.SessionID,
		Meta: metaView{
			VideoMeta:     res.Meta,
			TotalSegments: res.Stats.TotalSegments,
			ProcessedAt:   res.ProcessedAt,
		},
		Stats:    res.Stats,
		Segments: make([]segmentView, 0, len(res.Segments)),
	}
	for _, seg := range res.Segments {
		if seg.ScreenshotPath != "" {
			seg.ScreenshotPath = path.Join("/uploads", res.SessionID, "frames", filepath.Base(seg.ScreenshotPath))
		}
		view.Segments = append(view.Segments, segmentView{
			TimelineSegment:    seg,
			FormattedTimeRange: seg.FormattedTimeRange(),
			DurationSec:        seg.Duration(),
		})
	}
	return view
}

func (s *Server) resultsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/results/")
	res, err := s.orch.Result(r.Context(), id)
	switch {
	case errors.Is(err, core.ErrNotReady):
		core.WriteJSON(w, http.StatusConflict, map[string]string{"error": "session still processing"})
		return
	case errors.Is(err, core.ErrNotFound):
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	case err != nil:
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, s.viewOf(res))
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/export/")
	res, err := s.orch.Result(r.Context(), id)
	switch {
	case errors.Is(err, core.ErrNotReady):
		core.WriteJSON(w, http.StatusConflict, map[string]string{"error": "session still processing"})
		return
	case errors.Is(err, core.ErrNotFound):
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	case err != nil:
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	name, err := s.exporter.Export(res)
	if err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "export failed"})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]string{
		"session_id":   id,
		"filename":     name,
		"download_url": "/download/" + name,
	})
}

func (s *Server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/download/")
	// Reject traversal attempts before touching the filesystem.
	if name == "" || name != filepath.Base(name) {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid filename"})
		return
	}
	full := filepath.Join(s.cfg.ExportDir, name)
	if _, err := os.Stat(full); err != nil {
		core.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, full)
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/session/")
	if id == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "session id required"})
		return
	}
	if err := s.orch.Delete(r.Context(), id); err != nil {
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "deleted"})
}

type queryRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	TopK      int    `json:"top_k"`
}

type queryResponse struct {
	SessionID string     `json:"session_id"`
	Query     string     `json:"query"`
	Hits      []core.Hit `json:"hits"`
	Answer    string     `json:"answer"`
}

func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.SessionID == "" || strings.TrimSpace(req.Query) == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id and query required"})
		return
	}
	hits := s.index.Search(r.Context(), req.SessionID, req.Query, req.TopK)
	answer := storage.SynthesizeAnswer(r.Context(), s.cfg, req.Query, hits)
	if hits == nil {
		hits = []core.Hit{}
	}
	core.WriteJSON(w, http.StatusOK, queryResponse{
		SessionID: req.SessionID,
		Query:     req.Query,
		Hits:      hits,
		Answer:    answer,
	})
}

func (s *Server) sensitivityHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req session.Sensitivity
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	applied := s.orch.SetSensitivity(req)
	log.Printf("sensitivity updated: threshold=%.2f min_duration=%.1fs",
		applied.SimilarityThreshold, applied.MinSegmentDuration)
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"status":               "applied",
		"similarity_threshold": applied.SimilarityThreshold,
		"min_segment_duration": applied.MinSegmentDuration,
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.orch.ActiveCount(),
		"settings":        s.orch.Sensitivity(),
		"time":            time.Now().UTC().Format(time.RFC3339),
	})
}
