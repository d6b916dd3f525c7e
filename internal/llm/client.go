// Package llm 调用 OpenAI Responses 接口生成页面分析建议
//
//   - client.go：HTTP 客户端（Generate）
//   - prompt.go：文本 / 多模态输入构造
//   - parse.go：响应文本与建议提取
//   - analyzer.go：多模态失败后退回纯文本的分析流程
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// 默认配置
const (
	DefaultBaseURL         = "https://api.openai.com/v1"
	DefaultModel           = "gpt-5"
	DefaultTimeout         = 60 * time.Second
	DefaultMaxOutputTokens = 800
)

// ErrConfig 未配置 API Key
var ErrConfig = errors.New("OPENAI_API_KEY not configured")

// UpstreamError 上游返回非 2xx
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// Config 客户端配置
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int
}

// Reasoning 推理选项
type Reasoning struct {
	Effort string `json:"effort"`
}

// TextOptions 输出文本选项
type TextOptions struct {
	Verbosity string `json:"verbosity"`
}

// Request Responses 请求体
//
// Input 为字符串（纯文本）或 []Block（多模态）。
type Request struct {
	Model           string      `json:"model"`
	Input           any         `json:"input"`
	Reasoning       Reasoning   `json:"reasoning"`
	Text            TextOptions `json:"text"`
	MaxOutputTokens int         `json:"max_output_tokens"`
}

// Client Responses 接口客户端
type Client struct {
	apiKey          string
	baseURL         string
	model           string
	maxOutputTokens int
	http            *http.Client
}

// NewClient 创建客户端，空字段使用默认值
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}
	return &Client{
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		model:           model,
		maxOutputTokens: maxTokens,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
}

// Model 使用的模型名
func (c *Client) Model() string {
	return c.model
}

// NewRequest 按客户端配置构造请求
func (c *Client) NewRequest(input any) Request {
	return Request{
		Model:           c.model,
		Input:           input,
		Reasoning:       Reasoning{Effort: "minimal"},
		Text:            TextOptions{Verbosity: "low"},
		MaxOutputTokens: c.maxOutputTokens,
	}
}

// Generate POST <base_url>/responses
//
// 未配置 API Key 返回 ErrConfig；非 2xx 返回 *UpstreamError。
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	if c.apiKey == "" {
		return nil, ErrConfig
	}
	if req.Model == "" {
		req.Model = c.model
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &decoded, nil
}
