// Package llm 是调用外部大模型补全接口的网关。
//
// 所有传输失败、非 2xx 状态、空响应体以及无法提取文本的情况都统一返回 *ProviderError。
// 这一层不做重试，是否重试由调用方决定。
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/user/reelshelf/internal/logger"
	"github.com/user/reelshelf/internal/metrics"
)

// Client 文本补全接口
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ProviderError LLM 调用失败
type ProviderError struct {
	Provider   string
	StatusCode int    // 0 表示没有拿到 HTTP 响应
	RawBody    string // 截断后的原始响应体
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = "provider request failed"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError 判断错误链中是否包含 ProviderError
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// Usage token 用量
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

const maxRawBody = 2048

func truncate(b []byte) string {
	if len(b) > maxRawBody {
		return string(b[:maxRawBody])
	}
	return string(b)
}

// newHTTPClient 连接超时与整体读超时分开配置
func newHTTPClient(connectTimeout, timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	return &http.Client{Timeout: timeout, Transport: transport}
}

// postJSON 发送 JSON 请求，返回状态码与完整响应体；只有传输层失败才返回 error
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response failed: %w", err)
	}
	return resp.StatusCode, body, nil
}

// recordSuccess 只在成功时记录耗时和 token 用量
func recordSuccess(log *logger.Logger, provider, model string, started time.Time, usage Usage) {
	latency := time.Since(started)
	metrics.LLMRequestDuration.WithLabelValues(provider).Observe(latency.Seconds())
	metrics.LLMTokens.WithLabelValues(provider, "prompt").Add(float64(usage.PromptTokens))
	metrics.LLMTokens.WithLabelValues(provider, "completion").Add(float64(usage.CompletionTokens))
	log.Info("llm completion",
		"provider", provider,
		"model", model,
		"latency_ms", latency.Milliseconds(),
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
	)
}
