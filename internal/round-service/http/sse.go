package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter envia eventos Server-Sent Events
// Usa http.ResponseController para achar o Flusher mesmo atrás de middlewares
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // desliga buffer do nginx
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

// send escreve "event: <name>\ndata: {json}\n\n" e faz flush
func (s *sseWriter) send(event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal sse data: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return fmt.Errorf("write sse event: %w", err)
	}
	return s.rc.Flush()
}

// keepAlive manda um comentário para manter proxies com a conexão aberta
func (s *sseWriter) keepAlive() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}
