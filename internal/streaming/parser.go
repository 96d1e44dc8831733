package streaming

import (
	"bytes"

	"github.com/goccy/go-json"
)

// upstreamChunk mirrors the OpenAI-style streaming frame shape.
// Only the delta content path is read.
type upstreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Parser decodes provider SSE frames into content fragments.
// The zero value is ready to use.
type Parser struct{}

// ParseChunk extracts the content fragment from one raw SSE line.
// It returns done=true on the [DONE] sentinel, and empty content for
// keep-alives, comments, and frames without a delta.
func (p *Parser) ParseChunk(line []byte) (content string, done bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return "", false
	}

	// SSE comments (": keep-alive") and event lines carry no content.
	if trimmed[0] == ':' || bytes.HasPrefix(trimmed, []byte("event:")) {
		return "", false
	}

	trimmed = bytes.TrimPrefix(trimmed, []byte(SSEDataPrefix))

	if bytes.Equal(trimmed, []byte(SSEDone)) {
		return "", true
	}

	var chunk upstreamChunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil {
		// Unparseable frames are skipped, not fatal.
		return "", false
	}
	if len(chunk.Choices) == 0 {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, false
}
