package provider

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/qs3c/melody_go_server/config"
)

// NewHTTPClient 构建供应商共用的 resty 客户端。
// 只重试 GET 的网络错误和 5xx。派发类 POST 不重试：网关返回 5xx 时供应商可能已经受理并计费，
// 这类失败交给编排层换供应商。429 交给调用方，因为它需要更长的退避。
func NewHTTPClient(cfg config.ProviderConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 && r.StatusCode() <= 504
		})
}

// RetryAfter 解析 Retry-After 头（秒）
func RetryAfter(resp *resty.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := strings.TrimSpace(resp.Header().Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
