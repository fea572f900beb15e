package groq

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteReturnsTrimmedContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"  {\"intent\": \"route\"}  "}}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	content, err := client.Complete(context.Background(), "llama-3.1-8b-instant", "system", "user", 64, 0)

	require.NoError(t, err)
	assert.Equal(t, `{"intent": "route"}`, content)
}

func TestCompleteEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.Complete(context.Background(), "llama-3.1-8b-instant", "system", "user", 64, 0)
	assert.Error(t, err)
}

func TestClientWithoutKeyIsNotConfigured(t *testing.T) {
	client := NewClient("https://api.groq.com/openai/v1", "")

	assert.False(t, client.Configured())
	_, err := client.ChatCompletion(context.Background(), "llama-3.1-8b-instant", nil, 64, 0)
	assert.Error(t, err)
}
