package handler

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/qs3c/melody_go_server/internal/provider/suno"
	"github.com/qs3c/melody_go_server/internal/service"
)

const maxCallbackBody = 1 << 20

// CallbackHandler 供应商回调入口。供应商只看 HTTP 状态码，不使用统一响应结构。
type CallbackHandler struct {
	callbackService *service.CallbackService
	token           string
	logger          zerolog.Logger
}

func NewCallbackHandler(callbackService *service.CallbackService, token string, logger zerolog.Logger) *CallbackHandler {
	return &CallbackHandler{
		callbackService: callbackService,
		token:           token,
		logger:          logger.With().Str("component", "callback_handler").Logger(),
	}
}

// Suno 接收 Suno 推送
// POST /api/v1/callbacks/suno?token=xxx
func (h *CallbackHandler) Suno(c *gin.Context) {
	if h.token != "" && subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(h.token)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	err = h.callbackService.HandleSuno(c.Request.Context(), body)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, suno.ErrMalformedCallback):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
	case errors.Is(err, service.ErrCorrelationNotFound):
		// 确认接收，避免供应商无限重试
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	default:
		h.logger.Error().Err(err).Msg("suno callback failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
