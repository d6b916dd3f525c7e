// Package analysis 页面分析领域 - Handler 单元测试
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overlay-backend/internal/llm"
)

// mockAnalyzer 记录收到的输入并返回预设结果
type mockAnalyzer struct {
	got  llm.PageInput
	out  *llm.Analysis
	err  error
	hits int
}

func (m *mockAnalyzer) Analyze(ctx context.Context, in llm.PageInput) (*llm.Analysis, error) {
	m.hits++
	m.got = in
	return m.out, m.err
}

func post(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	req := httptest.NewRequest("POST", "/api/analysis", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestAnalyze_Success(t *testing.T) {
	tokens := 120
	m := &mockAnalyzer{out: &llm.Analysis{
		Suggestions: []llm.Suggestion{{Description: "Click login", Actions: []string{}}},
		Model:       "gpt-5",
		UsageTokens: &tokens,
	}}
	w := post(t, NewHandler(m, nil), `{
		"page_url": "https://example.com",
		"dom_html": "<html/>",
		"screenshots": [{"mime_type": "image/png", "data_base64": "AAAA"}],
		"user_prompt": "what next?"
	}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{
		"suggestions": [{"description": "Click login", "actions": []}],
		"model": "gpt-5",
		"usage_tokens": 120
	}`, w.Body.String())

	assert.Equal(t, "https://example.com", m.got.PageURL)
	assert.Equal(t, "what next?", m.got.UserPrompt)
	require.Len(t, m.got.Screenshots, 1)
	assert.Equal(t, "image/png", m.got.Screenshots[0].MimeType)
}

func TestAnalyze_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"screenshot missing data", `{"dom_html":"x","screenshots":[{"mime_type":"image/png"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockAnalyzer{}
			w := post(t, NewHandler(m, nil), tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Zero(t, m.hits)
		})
	}
}

func TestAnalyze_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"missing dom", llm.ErrInvalidInput, http.StatusBadRequest, `{"error":"dom_html is required"}`},
		{"no api key", llm.ErrConfig, http.StatusInternalServerError, `{"error":"OPENAI_API_KEY not configured"}`},
		{"upstream", &llm.UpstreamError{StatusCode: 429, Body: "slow down"}, 429, `{"error":"upstream error","detail":"slow down"}`},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, `{"error":"upstream timeout"}`},
		{"transport", errors.New("connection refused"), http.StatusBadGateway, `{"error":"upstream request failed"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, NewHandler(&mockAnalyzer{err: tt.err}, nil), `{"dom_html":"<p/>"}`)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

// TestAnalyze_EndToEnd 真实 Analyzer + 模拟上游：多模态被拒后退回纯文本
func TestAnalyze_EndToEnd(t *testing.T) {
	var inputs []interface{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		inputs = append(inputs, body["input"])
		if _, isBlocks := body["input"].([]interface{}); isBlocks {
			http.Error(w, "images not supported", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"output":[{"type":"message","content":[{"type":"output_text","text":"- Open menu\n- Click settings"}]}],"usage":{"total_tokens":"33"}}`)
	}))
	defer upstream.Close()

	client := llm.NewClient(llm.Config{APIKey: "k", BaseURL: upstream.URL, Model: "gpt-test"})
	h := NewHandler(llm.NewAnalyzer(client, 0, nil), nil)

	w := post(t, h, `{"dom_html":"<nav/>","screenshots":[{"mime_type":"image/png","data_base64":"AAAA"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{
		"suggestions": [
			{"description": "Open menu", "actions": []},
			{"description": "Click settings", "actions": []}
		],
		"model": "gpt-test",
		"usage_tokens": 33
	}`, w.Body.String())

	require.Len(t, inputs, 2)
	_, second := inputs[1].(string)
	assert.True(t, second)
}
