package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/user/reelshelf/internal/logger"
	"github.com/user/reelshelf/internal/metrics"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiConfig Gemini 客户端配置
type GeminiConfig struct {
	APIKey         string
	Model          string
	BaseURL        string // 为空时使用官方地址
	ConnectTimeout time.Duration
	Timeout        time.Duration
	Temperature    float64
}

// geminiRequest Gemini API 请求结构
type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature float64 `json:"temperature"`
}

// geminiResponse Gemini API 响应结构
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Gemini 调用 generateContent 接口
type Gemini struct {
	cfg    GeminiConfig
	client *http.Client
	log    *logger.Logger
}

// NewGemini 创建 Gemini 客户端
func NewGemini(cfg GeminiConfig, log *logger.Logger) *Gemini {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	return &Gemini{
		cfg:    cfg,
		client: newHTTPClient(cfg.ConnectTimeout, cfg.Timeout),
		log:    log.With("component", "llm.gemini"),
	}
}

// Complete 发送 system + user 提示词，返回拼接后的文本
func (g *Gemini) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.cfg.APIKey == "" {
		return "", g.fail(0, nil, "GEMINI_API_KEY is not set", nil)
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: userPrompt}}},
		},
		GenerationConfig: geminiGenerationConfig{Temperature: g.cfg.Temperature},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(g.cfg.BaseURL, "/"), g.cfg.Model)
	started := time.Now()
	status, body, err := postJSON(ctx, g.client, url, map[string]string{"x-goog-api-key": g.cfg.APIKey}, reqBody)
	if err != nil {
		return "", g.fail(status, body, "post request to gemini failed", err)
	}
	if status < 200 || status >= 300 {
		return "", g.fail(status, body, geminiErrorMessage(body, status), nil)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", g.fail(status, body, "gemini returned empty body", nil)
	}

	var result geminiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", g.fail(status, body, "decode response failed", err)
	}
	if result.Error != nil {
		return "", g.fail(status, body, "gemini api error: "+result.Error.Message, nil)
	}

	var sb strings.Builder
	if len(result.Candidates) > 0 {
		for _, p := range result.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", g.fail(status, body, "gemini returned no content", nil)
	}

	recordSuccess(g.log, "gemini", g.cfg.Model, started, Usage{
		PromptTokens:     result.UsageMetadata.PromptTokenCount,
		CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
	})
	return text, nil
}

func (g *Gemini) fail(status int, body []byte, msg string, err error) error {
	metrics.LLMErrors.WithLabelValues("gemini").Inc()
	return &ProviderError{Provider: "gemini", StatusCode: status, RawBody: truncate(body), Message: msg, Err: err}
}

// geminiErrorMessage 尽量从错误响应中取出 message，解析不了就给通用描述
func geminiErrorMessage(body []byte, status int) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return fmt.Sprintf("gemini returned error status: %d", status)
}
