package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorKind 供应商错误分类
type ErrorKind string

const (
	KindAuth              ErrorKind = "auth"
	KindBadRequest        ErrorKind = "bad_request"
	KindRateLimited       ErrorKind = "rate_limited"
	KindInsufficientQuota ErrorKind = "insufficient_quota"
	KindServer            ErrorKind = "server"
	KindTransient         ErrorKind = "transient"
	KindContentPolicy     ErrorKind = "content_policy"
	KindNoArtifact        ErrorKind = "no_artifact"
	KindTimeout           ErrorKind = "timeout"
	KindDispatch          ErrorKind = "dispatch"
	KindGeneration        ErrorKind = "generation"
)

// Error 所有供应商错误在适配层被规范化为该类型
type Error struct {
	Kind       ErrorKind
	Provider   Name
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(string(e.Provider))
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable 轮询阶段可重试
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindServer, KindRateLimited:
		return true
	}
	return false
}

// FallbackEligible 派发失败时可换另一家供应商重试
func (e *Error) FallbackEligible() bool {
	switch e.Kind {
	case KindTransient, KindServer, KindRateLimited, KindInsufficientQuota:
		return true
	}
	return false
}

const maxUserMessage = 200

// UserMessage 面向用户的简短描述，不包含原始响应体
func (e *Error) UserMessage() string {
	var prefix string
	switch e.Kind {
	case KindAuth:
		prefix = "provider authentication failed"
	case KindBadRequest:
		prefix = "provider rejected the request"
	case KindRateLimited:
		prefix = "provider rate limit reached"
	case KindInsufficientQuota:
		prefix = "provider balance insufficient"
	case KindServer, KindTransient:
		prefix = "provider temporarily unavailable"
	case KindContentPolicy:
		prefix = "content rejected by provider policy"
	case KindNoArtifact:
		prefix = "provider returned no playable audio"
	case KindTimeout:
		prefix = "generation timed out"
	default:
		prefix = "generation failed"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		return prefix
	}
	return Truncate(prefix+": "+msg, maxUserMessage)
}

// NewError 构造错误
func NewError(p Name, kind ErrorKind, msg string) *Error {
	return &Error{Provider: p, Kind: kind, Message: msg}
}

// AsError 提取 *Error
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Normalize 将任意错误转换为 *Error，网络错误归为 transient
func Normalize(p Name, err error) *Error {
	if err == nil {
		return nil
	}
	if pe, ok := AsError(err); ok {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: p, Kind: KindTransient, Message: "request deadline exceeded", Err: err}
	}
	return &Error{Provider: p, Kind: KindTransient, Message: err.Error(), Err: err}
}

// ClassifyHTTP 按 HTTP 状态码分类
func ClassifyHTTP(p Name, status int, msg string) *Error {
	e := &Error{Provider: p, StatusCode: status, Message: msg}
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
	case status == http.StatusTooManyRequests:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "balance") || strings.Contains(lower, "credit") {
			e.Kind = KindInsufficientQuota
		} else {
			e.Kind = KindRateLimited
		}
	case status == http.StatusPaymentRequired:
		e.Kind = KindInsufficientQuota
	case status == http.StatusUnavailableForLegalReasons || isPolicyMessage(lower):
		e.Kind = KindContentPolicy
	case status >= 500:
		e.Kind = KindServer
	case status >= 400:
		e.Kind = KindBadRequest
	default:
		e.Kind = KindGeneration
	}
	return e
}

func isPolicyMessage(lower string) bool {
	for _, w := range []string{"sensitive", "moderation", "policy", "copyright", "artist name"} {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// IsPolicyMessage 供应商返回文本是否表示内容审核拒绝
func IsPolicyMessage(msg string) bool {
	return isPolicyMessage(strings.ToLower(msg))
}
