package service

import (
	"github.com/rs/zerolog"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/provider"
	"github.com/qs3c/melody_go_server/internal/provider/mureka"
	"github.com/qs3c/melody_go_server/internal/provider/suno"
)

// NewProviderRegistry 只注册配置了凭据的供应商
func NewProviderRegistry(cfg *config.Config, logger zerolog.Logger) provider.Registry {
	registry := provider.Registry{}
	if cfg.Providers.Suno.Enabled() {
		registry[provider.Suno] = suno.New(suno.Options{
			Config:      cfg.Providers.Suno,
			Logger:      logger,
			CallbackURL: cfg.Callback.SunoURL(),
		})
	}
	if cfg.Providers.Mureka.Enabled() {
		registry[provider.Mureka] = mureka.New(mureka.Options{
			Config:                 cfg.Providers.Mureka,
			Logger:                 logger,
			AllowPrivateReferences: cfg.Providers.Mureka.AllowPrivateReferences,
		})
	}
	return registry
}
