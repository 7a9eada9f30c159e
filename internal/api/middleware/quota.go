package middleware

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/melody_go_server/internal/model/dto"
	"github.com/qs3c/melody_go_server/internal/pkg/response"
)

const (
	HeaderQuotaRemaining = "X-Quota-Remaining"
	HeaderQuotaReset     = "X-Quota-Reset"
)

// QuotaReader 读取用户当日的生成配额
type QuotaReader interface {
	GetQuotaInfo(ctx context.Context, userID int64) (*dto.QuotaInfo, error)
}

// SetQuotaHeaders 把剩余生成次数和重置时间写进响应头，前端据此禁用生成按钮
func SetQuotaHeaders(c *gin.Context, info *dto.QuotaInfo) {
	c.Header(HeaderQuotaRemaining, strconv.Itoa(info.QuotaRemaining))
	if info.QuotaResetAt != "" {
		c.Header(HeaderQuotaReset, info.QuotaResetAt)
	}
}

// QuotaCheck 在创建生成任务前拒绝当日次数已用完的请求。
// 这里只读不扣，并发提交仍可能都通过，占用配额在 Submit 的事务里原子完成，
// 失败的任务由 worker 退还。
func QuotaCheck(quota QuotaReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			response.AuthError(c, "")
			c.Abort()
			return
		}

		info, err := quota.GetQuotaInfo(c.Request.Context(), userID)
		if err != nil {
			response.ServerError(c, "生成配额读取失败")
			c.Abort()
			return
		}
		SetQuotaHeaders(c, info)

		if info.QuotaRemaining <= 0 {
			msg := fmt.Sprintf("今日 %d 次生成已用完", info.DailyQuota)
			if info.QuotaResetAt != "" {
				msg += "，将于 " + info.QuotaResetAt + " 重置"
			}
			response.QuotaError(c, msg)
			c.Abort()
			return
		}

		c.Next()
	}
}
