package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{APIKey: "k"})
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, DefaultTimeout, c.http.Timeout)

	req := c.NewRequest("hi")
	assert.Equal(t, DefaultModel, req.Model)
	assert.Equal(t, DefaultMaxOutputTokens, req.MaxOutputTokens)

	c = NewClient(Config{BaseURL: " http://proxy.local/v1/ ", Model: "m", Timeout: time.Second, MaxOutputTokens: 10})
	assert.Equal(t, "http://proxy.local/v1", c.baseURL)
	assert.Equal(t, "m", c.Model())
	assert.Equal(t, 10, c.NewRequest("x").MaxOutputTokens)
}

func TestGenerateRequiresAPIKey(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.Generate(context.Background(), c.NewRequest("x"))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestGenerateSendsPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header: %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("unexpected content type: %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		assert.Equal(t, "gpt-test", body["model"])
		assert.Equal(t, "hello", body["input"])
		assert.Equal(t, map[string]any{"effort": "minimal"}, body["reasoning"])
		assert.Equal(t, map[string]any{"verbosity": "low"}, body["text"])
		assert.EqualValues(t, 800, body["max_output_tokens"])

		_, _ = io.WriteString(w, `{"output_text":"- do it","usage":{"total_tokens":12}}`)
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "secret", BaseURL: server.URL + "/v1/", Model: "gpt-test"})
	resp, err := c.Generate(context.Background(), c.NewRequest("hello"))
	require.NoError(t, err)
	assert.Equal(t, "- do it", resp.Text())
	n, ok := resp.TotalTokens()
	assert.True(t, ok)
	assert.Equal(t, 12, n)
}

func TestGenerateUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unsupported input"}`, http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	_, err := c.Generate(context.Background(), c.NewRequest("x"))

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusUnprocessableEntity, upstream.StatusCode)
	assert.Contains(t, upstream.Body, "unsupported input")
}

func TestGenerateDecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json")
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	_, err := c.Generate(context.Background(), c.NewRequest("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}
