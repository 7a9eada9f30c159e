package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 错误码定义
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodePermissionDenied = 1002
	CodeResourceNotFound = 1003
	CodeQuotaExceeded    = 1004
	CodeJobConflict      = 1005
	CodeNoProvider       = 2001
	CodeServerError      = 5000
)

// 错误码对应的默认消息
var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeAuthFailed:       "认证失败",
	CodePermissionDenied: "权限不足",
	CodeResourceNotFound: "资源不存在",
	CodeQuotaExceeded:    "配额不足",
	CodeJobConflict:      "任务状态不允许该操作",
	CodeNoProvider:       "没有可用的生成服务",
	CodeServerError:      "服务器内部错误",
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// PageData 分页数据结构
type PageData struct {
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Items    interface{} `json:"items"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	SuccessWithMessage(c, "success", data)
}

// SuccessWithMessage 带自定义消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, Message: message, Data: data})
}

// SuccessPage 分页成功响应
func SuccessPage(c *gin.Context, total int64, page, pageSize int, items interface{}) {
	Success(c, PageData{Total: total, Page: page, PageSize: pageSize, Items: items})
}

// Error 错误响应。业务错误同样返回 HTTP 200，由 code 区分
func Error(c *gin.Context, code int, message string) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(http.StatusOK, Response{Code: code, Message: message})
}

// ParamError 参数错误
func ParamError(c *gin.Context, message string) { Error(c, CodeParamError, message) }

// AuthError 认证失败
func AuthError(c *gin.Context, message string) { Error(c, CodeAuthFailed, message) }

// PermissionError 非任务所有者
func PermissionError(c *gin.Context, message string) { Error(c, CodePermissionDenied, message) }

// NotFoundError 资源不存在
func NotFoundError(c *gin.Context, message string) { Error(c, CodeResourceNotFound, message) }

// QuotaError 当日生成次数已用完
func QuotaError(c *gin.Context, message string) { Error(c, CodeQuotaExceeded, message) }

// ConflictError 任务状态冲突，如取消已结束的任务
func ConflictError(c *gin.Context, message string) { Error(c, CodeJobConflict, message) }

// NoProviderError 所有供应商均未配置
func NoProviderError(c *gin.Context, message string) { Error(c, CodeNoProvider, message) }

// ServerError 服务器错误，不向客户端暴露内部细节
func ServerError(c *gin.Context, message string) { Error(c, CodeServerError, message) }
