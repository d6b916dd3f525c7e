package llm

import (
	"strings"
)

// DefaultMaxDOMChars DOM 截断长度（按字符）
const DefaultMaxDOMChars = 120000

const (
	textSystemPrompt = "You are a UI assistant. Given raw DOM, analyze the page state and " +
		"propose specific, safe UI actions. Return a concise bullet list of " +
		"actions with rationale."
	blocksSystemPrompt = "You are a UI assistant. Given raw DOM and one or more screenshots, " +
		"analyze the page state and propose specific, safe UI actions. Return " +
		"a concise bullet list of actions with rationale."
	defaultUserPrompt = "Please analyze this page and suggest next UI actions."
)

// Screenshot 浏览器截图（base64，无 data URI 前缀）
type Screenshot struct {
	MimeType   string `json:"mime_type"`
	DataBase64 string `json:"data_base64"`
}

// PageInput 分析请求
type PageInput struct {
	PageURL     string       `json:"page_url,omitempty"`
	DOMHTML     string       `json:"dom_html"`
	Screenshots []Screenshot `json:"screenshots,omitempty"`
	UserPrompt  string       `json:"user_prompt,omitempty"`
}

// Image 图片块内容
type Image struct {
	Format  string `json:"format"`
	B64Data string `json:"b64_data"`
}

// Block 多模态输入块
type Block struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Image *Image `json:"image,omitempty"`
}

// TruncateDOM 按字符（rune）截断 DOM
func TruncateDOM(dom string, limit int) string {
	if limit <= 0 {
		limit = DefaultMaxDOMChars
	}
	if len(dom) <= limit {
		return dom
	}
	n := 0
	for i := range dom {
		if n == limit {
			return dom[:i]
		}
		n++
	}
	return dom
}

// BuildInputText 纯文本输入（不附带截图）
func BuildInputText(in PageInput, maxDOMChars int) string {
	parts := []string{
		"[SYSTEM]\n" + textSystemPrompt,
		"[URL]\n" + pageURL(in),
		"[INSTRUCTION]\n" + userPrompt(in),
		"[DOM_TRUNCATED]",
		TruncateDOM(in.DOMHTML, maxDOMChars),
	}
	return strings.Join(parts, "\n\n")
}

// BuildInputBlocks 多模态输入：文本块 + 每张截图一个标记块和图片块
func BuildInputBlocks(in PageInput, maxDOMChars int) []Block {
	blocks := []Block{
		{Type: "text", Text: "[SYSTEM]\n" + blocksSystemPrompt},
		{Type: "text", Text: "[URL]\n" + pageURL(in)},
		{Type: "text", Text: userPrompt(in)},
		{Type: "text", Text: "[DOM_TRUNCATED]\n" + TruncateDOM(in.DOMHTML, maxDOMChars)},
	}
	for _, s := range in.Screenshots {
		blocks = append(blocks,
			Block{Type: "text", Text: "[SCREENSHOT]"},
			Block{Type: "input_image", Image: &Image{Format: imageFormat(s.MimeType), B64Data: s.DataBase64}},
		)
	}
	return blocks
}

// imageFormat image/jpeg → jpeg，无 "/" 时为 png
func imageFormat(mime string) string {
	if i := strings.LastIndex(mime, "/"); i >= 0 {
		return mime[i+1:]
	}
	return "png"
}

func pageURL(in PageInput) string {
	if in.PageURL == "" {
		return "unknown"
	}
	return in.PageURL
}

func userPrompt(in PageInput) string {
	if in.UserPrompt == "" {
		return defaultUserPrompt
	}
	return in.UserPrompt
}
