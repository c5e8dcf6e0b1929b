package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"goa.design/clue/log"

	"github.com/cuber-it/heinzel-ki/model"
	"github.com/cuber-it/heinzel-ki/provider"
	"github.com/cuber-it/heinzel-ki/retry"
)

// maxUploadBytes bounds multipart uploads (audio, images, ingestion).
const maxUploadBytes = 100 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON parses the request body into v. A malformed body is the
// caller's fault and is reported as 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": fmt.Sprintf("invalid request body: %v", err),
		})
		return false
	}
	return true
}

// writeError maps provider failures onto HTTP statuses: unimplemented
// endpoints become 501, an exhausted rate limit becomes 429 with a
// Retry-After hint, everything else stays 500 with the message preserved.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var na *provider.NotAvailableError
	if errors.As(err, &na) {
		writeJSON(w, http.StatusNotImplemented, map[string]any{
			"error":    "not_yet_implemented",
			"endpoint": na.Endpoint,
			"provider": na.Provider,
			"message":  na.Error(),
		})
		return
	}
	var rl *retry.RateLimitError
	if errors.As(err, &rl) {
		cfg := s.provider.RetryConfig()
		secs := int(cfg.InitialDelayS)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":    "rate_limit_exhausted",
			"attempts": rl.Attempts,
			"message":  rl.Error(),
		})
		return
	}
	log.Errorf(r.Context(), err, "%s", op)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
}

// sseWriter frames stream chunks as server-sent events.
type sseWriter struct {
	w       http.ResponseWriter
	flush   http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flush, _ := w.(http.Flusher)
	return &sseWriter{w: w, flush: flush}
}

// start emits the SSE headers once.
func (s *sseWriter) start() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

// send writes one chunk as a data frame and flushes.
func (s *sseWriter) send(chunk model.StreamChunk) error {
	s.start()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", chunk.Encode()); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush.Flush()
	}
	return nil
}

// done writes the terminator frame.
func (s *sseWriter) done() {
	s.start()
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	if s.flush != nil {
		s.flush.Flush()
	}
}
