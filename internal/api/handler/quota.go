package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/melody_go_server/internal/api/middleware"
	"github.com/qs3c/melody_go_server/internal/pkg/response"
)

// QuotaHandler 查询生成配额，和提交接口前的 QuotaCheck 读同一份数据
type QuotaHandler struct {
	quota middleware.QuotaReader
}

func NewQuotaHandler(quota middleware.QuotaReader) *QuotaHandler {
	return &QuotaHandler{quota: quota}
}

// GetQuota 当前用户今日还能提交几次生成
// GET /api/v1/user/quota
func (h *QuotaHandler) GetQuota(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	info, err := h.quota.GetQuotaInfo(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, "生成配额读取失败")
		return
	}

	middleware.SetQuotaHeaders(c, info)
	response.Success(c, info)
}
