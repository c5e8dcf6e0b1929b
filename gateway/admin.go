package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cuber-it/heinzel-ki/costs"
	"github.com/cuber-it/heinzel-ki/dialog"
	"github.com/cuber-it/heinzel-ki/model"
	"github.com/cuber-it/heinzel-ki/retention"
)

// ─── Runtime logging control ───

func (s *Server) handleLoggingEnable(w http.ResponseWriter, r *http.Request) {
	s.provider.DialogLogger().SetEnabled(true)
	writeJSON(w, http.StatusOK, map[string]any{"dialog_logging": true})
}

func (s *Server) handleLoggingDisable(w http.ResponseWriter, r *http.Request) {
	s.provider.DialogLogger().SetEnabled(false)
	writeJSON(w, http.StatusOK, map[string]any{"dialog_logging": false})
}

func (s *Server) handleLoggingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"dialog_logging": s.provider.DialogLogger().Enabled(),
	})
}

// ─── Retention ───

func (s *Server) handleRetentionRun(w http.ResponseWriter, r *http.Request) {
	logs := retention.SweepLogs(r.Context(), s.logDir, s.retention)
	var db retention.DBResult
	if s.store != nil {
		db = retention.SweepCosts(r.Context(), s.store, s.retention)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":       logs,
		"metrics_db": db,
		"policy":     s.retention,
	})
}

// ─── Dialog log retrieval ───

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := dialog.Filter{
		SessionID: q.Get("session_id"),
		HeinzelID: q.Get("heinzel_id"),
		TaskID:    q.Get("task_id"),
		Type:      q.Get("type"),
		Since:     q.Get("since"),
		Until:     q.Get("until"),
		Limit:     queryInt(q.Get("limit"), 100),
	}
	entries, err := dialog.Read(s.logDir, s.provider.Name(), f)
	if err != nil {
		s.writeError(w, r, "GET /logs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

// ─── Metrics ───

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"count": 0, "entries": []costs.Row{}})
		return
	}
	q := r.URL.Query()
	f := costs.Filter{
		SessionID: q.Get("session_id"),
		HeinzelID: q.Get("heinzel_id"),
		Provider:  s.provider.Name(),
		Model:     q.Get("model"),
		Status:    q.Get("status"),
		Since:     q.Get("since"),
		Until:     q.Get("until"),
		Limit:     queryInt(q.Get("limit"), 100),
	}
	rows, err := s.store.Query(r.Context(), f)
	if err != nil {
		s.writeError(w, r, "GET /metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(rows),
		"entries": rows,
	})
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, costs.Summary{})
		return
	}
	q := r.URL.Query()
	summary, err := s.store.Aggregate(r.Context(), costs.Filter{
		SessionID: q.Get("session_id"),
		HeinzelID: q.Get("heinzel_id"),
		Since:     q.Get("since"),
		Until:     q.Get("until"),
	})
	if err != nil {
		s.writeError(w, r, "GET /metrics/summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRateLimits(w http.ResponseWriter, r *http.Request) {
	hits := s.provider.RateLimitHits()
	var last any
	if len(hits) > 0 {
		last = hits[len(hits)-1].UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_hits":   len(hits),
		"last_hit":     last,
		"retry_config": s.provider.RetryConfig(),
	})
}

// ─── File ingestion ───

// handleFileIngest classifies one uploaded file into a canonical content
// block without contacting the upstream.
func (s *Server) handleFileIngest(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]any{
			"error": "file ingestion is not configured",
		})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing \"file\" upload"})
		return
	}
	data, err := readAll(file)
	if err != nil {
		s.writeError(w, r, "POST /files/ingest", err)
		return
	}
	mimeType := r.FormValue("mime_type")
	if mimeType == "" {
		mimeType = header.Header.Get("Content-Type")
	}
	block := s.files.Process(data, header.Filename, mimeType, s.provider.Name())
	writeJSON(w, http.StatusOK, map[string]any{
		"filename": header.Filename,
		"content":  model.Blocks(block),
	})
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
