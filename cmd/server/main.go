package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/api"
	"github.com/qs3c/melody_go_server/internal/api/handler"
	"github.com/qs3c/melody_go_server/internal/database"
	"github.com/qs3c/melody_go_server/internal/pkg/logger"
	"github.com/qs3c/melody_go_server/internal/pkg/oss"
	"github.com/qs3c/melody_go_server/internal/pkg/pubsub"
	"github.com/qs3c/melody_go_server/internal/pkg/queue"
	"github.com/qs3c/melody_go_server/internal/pkg/ws"
	"github.com/qs3c/melody_go_server/internal/repository"
	"github.com/qs3c/melody_go_server/internal/service"
)

func main() {
	// .env 可选，仅本地开发使用
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log).With().Str("process", "server").Logger()

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get sql db")
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	log.Info().Msg("redis connected")

	store, err := oss.NewStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init audio store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	jobRepo := repository.NewJobRepository(db)
	artifactRepo := repository.NewArtifactRepository(db)
	lyricsRepo := repository.NewLyricsRepository(db)

	// 初始化 Service
	providers := service.NewProviderRegistry(cfg, log)
	if len(providers) == 0 {
		log.Warn().Msg("no music provider configured, submissions will be rejected")
	}
	quotaService := service.NewQuotaService(userRepo, cfg)
	generationService := service.NewGenerationService(service.GenerationDeps{
		DB:           db,
		JobRepo:      jobRepo,
		ArtifactRepo: artifactRepo,
		LyricsRepo:   lyricsRepo,
		Quota:        quotaService,
		Providers:    providers,
		Queue:        queue.NewQueue(rdb, cfg.Queue.GenerationQueue),
		Notifier:     pubsub.NewPublisher(rdb),
		Blobs:        store,
		Config:       cfg,
		Logger:       log,
	})
	if cfg.Callback.Token == "" {
		log.Warn().Msg("callback.token is empty, provider callbacks are accepted without a shared secret")
	}
	callbackService := service.NewCallbackService(jobRepo, lyricsRepo, generationService, cfg.Callback.FallbackWindow, log)

	// WebSocket Hub，转发 worker 发布的进度
	wsHub := ws.NewHub(log)
	go func() {
		err := pubsub.NewSubscriber(rdb).Subscribe(ctx, func(msg *pubsub.ProgressMessage) {
			if err := wsHub.SendToUser(msg.UserID, &ws.Message{Type: msg.Type, Data: msg}); err != nil {
				log.Warn().Err(err).Str("job_id", msg.JobID).Msg("relay progress failed")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("progress subscriber stopped")
		}
	}()

	// 初始化 Router
	router := api.NewRouter(
		handler.NewGenerationHandler(generationService),
		handler.NewCallbackHandler(callbackService, cfg.Callback.Token, log),
		handler.NewProvidersHandler(cfg, generationService),
		handler.NewQuotaHandler(quotaService),
		handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins, log),
		quotaService,
		func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := sqlDB.PingContext(pingCtx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
			if err := rdb.Ping(pingCtx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
		cfg,
		log,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	_ = rdb.Close()
	_ = sqlDB.Close()
	log.Info().Msg("server stopped")
}
