package llm

import (
	"encoding/json"
	"strconv"
	"strings"
)

// MaxSuggestions 单次分析返回的最大建议数
const MaxSuggestions = 10

// ContentPart message 内容片段
type ContentPart struct {
	Type string  `json:"type"`
	Text *string `json:"text,omitempty"`
}

// OutputItem output 数组元素
type OutputItem struct {
	Type    string        `json:"type"`
	Text    *string       `json:"text,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

// Response Responses 接口响应（只解析用到的字段）
type Response struct {
	OutputText string          `json:"output_text"`
	Output     []OutputItem    `json:"output"`
	Usage      json.RawMessage `json:"usage"`
}

// Suggestion 单条建议
type Suggestion struct {
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
}

// Text 提取输出文本
//
// 优先 output_text；否则按顺序拼接 message 中的 output_text 片段
// 与顶层 output_text 元素，以换行连接。
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	if r.OutputText != "" {
		return r.OutputText
	}

	var parts []string
	add := func(text *string) {
		if text != nil && *text != "" {
			parts = append(parts, *text)
		}
	}
	for _, item := range r.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" {
					add(c.Text)
				}
			}
		case "output_text":
			add(item.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// TotalTokens usage.total_tokens，缺失或格式错误时 ok=false
func (r *Response) TotalTokens() (int, bool) {
	if r == nil || len(r.Usage) == 0 {
		return 0, false
	}
	var usage struct {
		TotalTokens json.RawMessage `json:"total_tokens"`
	}
	if err := json.Unmarshal(r.Usage, &usage); err != nil || len(usage.TotalTokens) == 0 {
		return 0, false
	}

	var n json.Number
	if err := json.Unmarshal(usage.TotalTokens, &n); err != nil {
		// 字符串形式的数字
		var s string
		if err := json.Unmarshal(usage.TotalTokens, &s); err != nil {
			return 0, false
		}
		n = json.Number(strings.TrimSpace(s))
	}
	if v, err := n.Int64(); err == nil {
		return int(v), true
	}
	if f, err := strconv.ParseFloat(n.String(), 64); err == nil {
		return int(f), true
	}
	return 0, false
}

// ParseSuggestions 把输出文本按行切成建议
//
// 去掉首尾的空格、"-"、"•" 和制表符，最多 MaxSuggestions 条。
// 修剪后为空的行（包括 "---" 这样的分隔线）直接跳过，不计入上限，
// 因此不会返回 description 为空的建议。
func ParseSuggestions(text string) []Suggestion {
	out := make([]Suggestion, 0, MaxSuggestions)
	lines := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	for _, line := range lines {
		if len(out) == MaxSuggestions {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		desc := strings.Trim(line, " -•\t")
		if desc == "" {
			continue
		}
		out = append(out, Suggestion{Description: desc, Actions: []string{}})
	}
	return out
}
