package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/qs3c/melody_go_server/config"
)

// New 根据配置构建根 logger
func New(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Nop 测试用
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
