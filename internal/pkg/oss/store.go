package oss

import (
	"context"

	"github.com/qs3c/melody_go_server/config"
)

// Store 音频存储，OSS 与本地目录实现相同接口
type Store interface {
	Put(ctx context.Context, objectKey string, data []byte, contentType string) (string, error)
}

// NewStore 配置了 OSS bucket 时使用 OSS，否则写本地目录
func NewStore(cfg *config.Config) (Store, error) {
	if cfg.OSS.BucketName != "" && cfg.OSS.AccessKeyID != "" {
		return NewClient(&cfg.OSS)
	}
	return NewLocalStore(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL)
}
