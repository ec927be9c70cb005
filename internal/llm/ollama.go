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

// OllamaConfig 本地 Ollama 配置
type OllamaConfig struct {
	Host           string
	Model          string
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaChatRequest Ollama /api/chat 请求结构
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// ollamaChatResponse Ollama /api/chat 响应结构（非流式）
type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

// Ollama 调用本地 Ollama 的对话接口
type Ollama struct {
	cfg    OllamaConfig
	client *http.Client
	log    *logger.Logger
}

// NewOllama 创建 Ollama 客户端
func NewOllama(cfg OllamaConfig, log *logger.Logger) *Ollama {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	return &Ollama{
		cfg:    cfg,
		client: newHTTPClient(cfg.ConnectTimeout, cfg.Timeout),
		log:    log.With("component", "llm.ollama"),
	}
}

// Complete 发送 system + user 消息，返回助手回复
func (o *Ollama) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]ollamaMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: userPrompt})

	started := time.Now()
	url := fmt.Sprintf("%s/api/chat", strings.TrimRight(o.cfg.Host, "/"))
	status, body, err := postJSON(ctx, o.client, url, nil, ollamaChatRequest{
		Model:    o.cfg.Model,
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return "", o.fail(status, body, "post request to ollama failed", err)
	}
	if status != http.StatusOK {
		msg := fmt.Sprintf("ollama returned error status: %d", status)
		var parsed ollamaChatResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
			msg = parsed.Error
		}
		return "", o.fail(status, body, msg, nil)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", o.fail(status, body, "ollama returned empty body", nil)
	}

	var result ollamaChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", o.fail(status, body, "decode response failed", err)
	}
	if strings.TrimSpace(result.Message.Content) == "" {
		return "", o.fail(status, body, "ollama returned no content", nil)
	}

	recordSuccess(o.log, "ollama", o.cfg.Model, started, Usage{
		PromptTokens:     result.PromptEvalCount,
		CompletionTokens: result.EvalCount,
	})
	return result.Message.Content, nil
}

func (o *Ollama) fail(status int, body []byte, msg string, err error) error {
	metrics.LLMErrors.WithLabelValues("ollama").Inc()
	return &ProviderError{Provider: "ollama", StatusCode: status, RawBody: truncate(body), Message: msg, Err: err}
}
