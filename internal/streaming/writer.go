package streaming

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

const (
	// SSEDataPrefix is the prefix for SSE data lines.
	SSEDataPrefix = "data: "

	// SSEDone is the upstream marker for stream completion.
	SSEDone = "[DONE]"
)

// Writer frames internal events onto an SSE response, one JSON object per
// data line, flushing after every event.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares w for event streaming and emits the response headers.
// cacheStatus is written as X-Cache (HIT or MISS).
func NewWriter(w http.ResponseWriter, cacheStatus string) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable nginx buffering
	h.Set("X-Cache", cacheStatus)

	return &Writer{w: w, flusher: flusher}, nil
}

// Send marshals the event and writes one SSE frame.
// Failures after the stream has started cannot be surfaced to the caller;
// the returned error only signals that the client is gone.
func (sw *Writer) Send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := sw.w.Write([]byte(SSEDataPrefix)); err != nil {
		return err
	}
	if _, err := sw.w.Write(data); err != nil {
		return err
	}
	if _, err := sw.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}
