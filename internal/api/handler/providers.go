package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/model/dto"
	"github.com/qs3c/melody_go_server/internal/pkg/response"
	"github.com/qs3c/melody_go_server/internal/provider"
)

// AvailabilitySource 返回当前已启用的供应商
type AvailabilitySource interface {
	Available() []provider.Name
}

type ProvidersHandler struct {
	cfg       *config.Config
	providers AvailabilitySource
}

func NewProvidersHandler(cfg *config.Config, providers AvailabilitySource) *ProvidersHandler {
	return &ProvidersHandler{cfg: cfg, providers: providers}
}

// List 供应商目录
// GET /api/v1/providers
func (h *ProvidersHandler) List(c *gin.Context) {
	enabled := make(map[provider.Name]bool)
	for _, name := range h.providers.Available() {
		enabled[name] = true
	}

	entries := []struct {
		name     provider.Name
		cfg      config.ProviderConfig
		fallback string
		callback bool
	}{
		{provider.Suno, h.cfg.Providers.Suno, "Suno", true},
		{provider.Mureka, h.cfg.Providers.Mureka, "Mureka", false},
	}

	items := make([]dto.ProviderInfo, 0, len(entries))
	for _, e := range entries {
		display := e.cfg.DisplayName
		if display == "" {
			display = e.fallback
		}
		items = append(items, dto.ProviderInfo{
			Name:             string(e.name),
			DisplayName:      display,
			Model:            e.cfg.Model,
			Description:      e.cfg.Description,
			BaseCost:         e.cfg.BaseCost,
			Available:        enabled[e.name],
			Default:          h.cfg.Providers.Default == string(e.name),
			SupportsCallback: e.callback,
		})
	}

	response.Success(c, gin.H{
		"providers":        items,
		"fallback_enabled": h.cfg.Providers.FallbackEnabled,
	})
}
