package streaming

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_SendFramesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec, "MISS")
	require.NoError(t, err)

	require.NoError(t, w.Send(Thinking("Connecting to AI...")))
	require.NoError(t, w.Send(Token("hello ")))
	require.NoError(t, w.Send(Done("hello world", "meta-llama/llama-3.3-70b-instruct:free", "Llama 3.3 70B Instruct", "balanced", 412, 2)))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	body := rec.Body.String()
	lines := []string{}
	for _, l := range strings.Split(body, "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], `data: {"type":"thinking"`))
	assert.Contains(t, lines[1], `"type":"token"`)
	assert.Contains(t, lines[2], `"latencyMs":412`)
	assert.Contains(t, lines[2], `"attempts":2`)
}
