package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/chatgate/chatgate/internal/orchestrator"
)

var (
	sseEventPrefix = []byte("event: ")
	sseDataPrefix  = []byte("data: ")
	sseNewline     = []byte("\n")
	sseDoubleNL    = []byte("\n\n")
)

var (
	sseHeaders      = []string{"text/event-stream"}
	sseCacheControl = []string{"no-cache"}
	sseConnection   = []string{"keep-alive"}
	sseAccelBuf     = []string{"no"}
)

// writeSSEHeaders sets the response headers for an SSE stream and writes
// the 200 status line.
func writeSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h["Content-Type"] = sseHeaders
	h["Cache-Control"] = sseCacheControl
	h["Connection"] = sseConnection
	h["X-Accel-Buffering"] = sseAccelBuf
	w.WriteHeader(http.StatusOK)
}

// writeSSEEvent writes one named SSE frame: "event: <name>\ndata:
// <json>\n\n". data is marshaled to JSON; marshal failures are logged and
// the frame is dropped rather than corrupting the stream.
func writeSSEEvent(w http.ResponseWriter, name string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("sse: failed to encode event payload", "event", name, "error", err)
		return
	}
	w.Write(sseEventPrefix)
	w.Write([]byte(name))
	w.Write(sseNewline)
	w.Write(sseDataPrefix)
	w.Write(payload)
	w.Write(sseDoubleNL)
}

// sseSink adapts an http.ResponseWriter into an orchestrator.Sink, emitting
// one named SSE frame per ClientEvent in the exact order produced and
// flushing after each.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

var _ orchestrator.Sink = (*sseSink)(nil)

func (s *sseSink) Send(ev orchestrator.ClientEvent) {
	writeSSEEvent(s.w, ev.Kind, ev.Data)
	s.flusher.Flush()
}
