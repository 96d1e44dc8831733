// Package streaming defines the event stream contract between the completion
// engine and its callers, and the SSE plumbing that carries it: the event
// union on the wire, the downstream writer, the upstream chunk parser, and
// the token coalescing buffer.
package streaming

// Event types carried on the wire and across the racing protocol's
// concurrency boundary.
const (
	EventThinking      = "thinking"
	EventModelSelected = "model_selected"
	EventToken         = "token"
	EventDone          = "done"
	EventError         = "error"
	EventCacheHit      = "cache_hit"
)

// Event is the discriminated union passed from the engine to the transport.
// Type selects which of the remaining fields are meaningful.
type Event struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	Model      string `json:"model,omitempty"`
	ModelHuman string `json:"modelHuman,omitempty"`
	Tier       string `json:"tier,omitempty"`
	LatencyMs  int64  `json:"latencyMs,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Thinking builds the initial connecting event.
func Thinking(content string) Event {
	return Event{Type: EventThinking, Content: content}
}

// ModelSelected announces the race winner.
func ModelSelected(model, human, tier string, attempts int) Event {
	return Event{Type: EventModelSelected, Model: model, ModelHuman: human, Tier: tier, Attempts: attempts}
}

// Token carries a content fragment.
func Token(content string) Event {
	return Event{Type: EventToken, Content: content}
}

// Done carries the full answer plus provenance.
func Done(content, model, human, tier string, latencyMs int64, attempts int) Event {
	return Event{
		Type:       EventDone,
		Content:    content,
		Model:      model,
		ModelHuman: human,
		Tier:       tier,
		LatencyMs:  latencyMs,
		Attempts:   attempts,
	}
}

// ErrorEvent carries a terminal error message.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Error: message}
}

// CacheHit replays a cached answer with its provenance.
func CacheHit(content, model, human string) Event {
	return Event{Type: EventCacheHit, Content: content, Model: model, ModelHuman: human}
}
