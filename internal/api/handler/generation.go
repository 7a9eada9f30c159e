package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/melody_go_server/internal/api/middleware"
	"github.com/qs3c/melody_go_server/internal/model/dto"
	"github.com/qs3c/melody_go_server/internal/pkg/response"
	"github.com/qs3c/melody_go_server/internal/service"
)

type GenerationHandler struct {
	generationService *service.GenerationService
}

func NewGenerationHandler(generationService *service.GenerationService) *GenerationHandler {
	return &GenerationHandler{
		generationService: generationService,
	}
}

// Submit 提交生成任务
// POST /api/v1/generations
func (h *GenerationHandler) Submit(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.generationService.Submit(c.Request.Context(), userID, &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "任务已提交", resp)
}

// Get 查询任务状态
// GET /api/v1/generations/:id
func (h *GenerationHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	resp, err := h.generationService.GetStatus(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, resp)
}

// List 当前用户的任务列表
// GET /api/v1/generations
func (h *GenerationHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.ListGenerationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	items, total, err := h.generationService.List(c.Request.Context(), userID, req.Page, req.PageSize, req.Status)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, req.Page, req.PageSize, items)
}

// Cancel 取消任务（仅标记）
// DELETE /api/v1/generations/:id
func (h *GenerationHandler) Cancel(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	if err := h.generationService.Cancel(c.Request.Context(), userID, c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "已取消", nil)
}

// writeServiceError 把服务层哨兵错误映射为响应码
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrQuotaExceeded):
		response.QuotaError(c, err.Error())
	case errors.Is(err, service.ErrNoProvider):
		response.NoProviderError(c, err.Error())
	case errors.Is(err, service.ErrJobNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrJobPermission):
		response.PermissionError(c, err.Error())
	case errors.Is(err, service.ErrJobFinished):
		response.ConflictError(c, err.Error())
	default:
		response.ServerError(c, "")
	}
}
