package service

import (
	"errors"
	"fmt"

	"github.com/user/reelshelf/internal/llm"
)

var (
	// ErrNotFound 条目或槽位不存在（或槽位已被替换）
	ErrNotFound = errors.New("not found")

	// ErrInvalidFormat LLM 输出不是要求的 JSON 结构
	ErrInvalidFormat = errors.New("invalid format")

	// ErrMissingCategory LLM 输出缺少某个标签分类
	ErrMissingCategory = errors.New("missing category")

	// ErrNoCandidates 单槽位刷新时过滤后没有可用推荐
	ErrNoCandidates = errors.New("no usable recommendation")

	// ErrSelectionMismatch 刷新槽位时指定的 selection 与所在批次不一致
	ErrSelectionMismatch = errors.New("selection does not match batch")
)

// ParseError LLM 输出解析失败，Kind 为 ErrInvalidFormat 或 ErrMissingCategory
type ParseError struct {
	Kind   error
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Kind }

func invalidFormat(format string, args ...interface{}) error {
	return &ParseError{Kind: ErrInvalidFormat, Detail: fmt.Sprintf(format, args...)}
}

// IsUpstreamError LLM 调用或其输出有问题（HTTP 层映射为 502）
func IsUpstreamError(err error) bool {
	var pe *ParseError
	return llm.IsProviderError(err) || errors.As(err, &pe) || errors.Is(err, ErrNoCandidates)
}
