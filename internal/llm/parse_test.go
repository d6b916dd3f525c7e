package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeResponse(t *testing.T, raw string) *Response {
	t.Helper()
	var r Response
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	return &r
}

func TestResponseText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"output_text", `{"output_text":"direct"}`, "direct"},
		{"message parts", `{"output":[
			{"type":"reasoning"},
			{"type":"message","content":[
				{"type":"output_text","text":"one"},
				{"type":"refusal","text":"skip"},
				{"type":"output_text","text":"two"}
			]}
		]}`, "one\ntwo"},
		{"top level output_text", `{"output":[{"type":"output_text","text":"top"}]}`, "top"},
		{"empty", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeResponse(t, tt.raw).Text())
		})
	}
}

func TestResponseTotalTokens(t *testing.T) {
	tests := []struct {
		raw    string
		want   int
		wantOK bool
	}{
		{`{"usage":{"total_tokens":42}}`, 42, true},
		{`{"usage":{"total_tokens":"17"}}`, 17, true},
		{`{"usage":{"total_tokens":9.0}}`, 9, true},
		{`{"usage":{"total_tokens":"lots"}}`, 0, false},
		{`{"usage":{"total_tokens":null}}`, 0, false},
		{`{"usage":{}}`, 0, false},
		{`{"usage":"bad"}`, 0, false},
		{`{}`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			n, ok := decodeResponse(t, tt.raw).TotalTokens()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestParseSuggestions(t *testing.T) {
	text := "- Click the login button\n\n  • Fill the email field\t\n\t- \nScroll down\r\n"
	got := ParseSuggestions(text)

	require.Len(t, got, 3)
	assert.Equal(t, "Click the login button", got[0].Description)
	assert.Equal(t, "Fill the email field", got[1].Description)
	assert.Equal(t, "Scroll down", got[2].Description)
	assert.NotNil(t, got[0].Actions)
	assert.Empty(t, got[0].Actions)
}

func TestParseSuggestionsLimit(t *testing.T) {
	var lines []string
	for i := 0; i < 15; i++ {
		lines = append(lines, fmt.Sprintf("- step %d", i))
	}
	got := ParseSuggestions(strings.Join(lines, "\n"))
	require.Len(t, got, MaxSuggestions)
	assert.Equal(t, "step 9", got[9].Description)
}

func TestParseSuggestionsEmpty(t *testing.T) {
	got := ParseSuggestions("")
	assert.NotNil(t, got)
	assert.Empty(t, got)

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestParseSuggestionsSeparatorsNotCounted(t *testing.T) {
	var lines []string
	for i := 0; i < 12; i++ {
		lines = append(lines, "---", fmt.Sprintf("- step %d", i))
	}
	got := ParseSuggestions(strings.Join(lines, "\n"))

	require.Len(t, got, MaxSuggestions)
	for i, s := range got {
		assert.Equal(t, fmt.Sprintf("step %d", i), s.Description)
	}
}
