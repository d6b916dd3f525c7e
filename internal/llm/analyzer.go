package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"overlay-backend/pkg/logging"
)

// 调用模式
const (
	ModeBlocks = "blocks"
	ModeText   = "text"
)

// ErrInvalidInput 分析请求缺少必填字段
var ErrInvalidInput = errors.New("invalid analysis input")

// Generator Analyzer 依赖的上游接口
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	NewRequest(input any) Request
	Model() string
}

// Observer 每次上游调用的结果回调（mode: blocks / text，outcome: ok / fallback / error）
type Observer func(mode, outcome string)

// Analysis 分析结果
type Analysis struct {
	Suggestions []Suggestion `json:"suggestions"`
	Model       string       `json:"model"`
	UsageTokens *int         `json:"usage_tokens,omitempty"`
}

// Analyzer 页面分析流程
type Analyzer struct {
	gen         Generator
	maxDOMChars int
	logger      *logging.Logger
	observe     Observer
}

// NewAnalyzer 创建分析器，maxDOMChars <= 0 时使用默认值
func NewAnalyzer(gen Generator, maxDOMChars int, logger *logging.Logger) *Analyzer {
	if maxDOMChars <= 0 {
		maxDOMChars = DefaultMaxDOMChars
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Analyzer{gen: gen, maxDOMChars: maxDOMChars, logger: logger.WithComponent("llm")}
}

// SetObserver 设置调用结果回调
func (a *Analyzer) SetObserver(fn Observer) {
	a.observe = fn
}

// Analyze 有截图时先走多模态，上游返回 400/415/422 时退回纯文本
func (a *Analyzer) Analyze(ctx context.Context, in PageInput) (*Analysis, error) {
	if in.DOMHTML == "" {
		return nil, fmt.Errorf("%w: dom_html is required", ErrInvalidInput)
	}

	var (
		resp *Response
		err  error
	)
	if len(in.Screenshots) > 0 {
		resp, err = a.gen.Generate(ctx, a.gen.NewRequest(BuildInputBlocks(in, a.maxDOMChars)))
		if err != nil && fallbackToText(err) {
			a.report(ModeBlocks, "fallback")
			a.logger.WithError(err).Info("[llm.analyze.fallback]", "screenshots", len(in.Screenshots))
			resp, err = a.generateText(ctx, in)
		} else {
			a.report(ModeBlocks, outcome(err))
		}
	} else {
		resp, err = a.generateText(ctx, in)
	}
	if err != nil {
		a.logger.WithError(err).Warn("[llm.analyze.failed]")
		return nil, err
	}

	out := &Analysis{
		Suggestions: ParseSuggestions(resp.Text()),
		Model:       a.gen.Model(),
	}
	if n, ok := resp.TotalTokens(); ok {
		out.UsageTokens = &n
	}
	a.logger.Debug("[llm.analyze.done]", "suggestions", len(out.Suggestions))
	return out, nil
}

func (a *Analyzer) generateText(ctx context.Context, in PageInput) (*Response, error) {
	resp, err := a.gen.Generate(ctx, a.gen.NewRequest(BuildInputText(in, a.maxDOMChars)))
	a.report(ModeText, outcome(err))
	return resp, err
}

func (a *Analyzer) report(mode, result string) {
	if a.observe != nil {
		a.observe(mode, result)
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// fallbackToText 上游拒绝多模态输入的状态码
func fallbackToText(err error) bool {
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		return false
	}
	switch upstream.StatusCode {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
