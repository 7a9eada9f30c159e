package service

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/qs3c/melody_go_server/internal/provider"
	"github.com/qs3c/melody_go_server/internal/testutil"
)

func TestNewProviderRegistry(t *testing.T) {
	cfg := testutil.TestConfig()
	assert.Empty(t, NewProviderRegistry(cfg, zerolog.Nop()))

	cfg.Providers.Mureka.BaseURL = "https://mureka.test"
	cfg.Providers.Mureka.APIKey = "mk"
	registry := NewProviderRegistry(cfg, zerolog.Nop())
	assert.Len(t, registry, 1)
	a, ok := registry.Get(provider.Mureka)
	assert.True(t, ok)
	assert.Equal(t, provider.Mureka, a.Name())

	cfg.Providers.Suno.BaseURL = "https://suno.test"
	cfg.Providers.Suno.APIKey = "sk"
	assert.Len(t, NewProviderRegistry(cfg, zerolog.Nop()), 2)
}
