package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/database"
	"github.com/qs3c/melody_go_server/internal/pkg/cron"
	"github.com/qs3c/melody_go_server/internal/pkg/logger"
	"github.com/qs3c/melody_go_server/internal/pkg/oss"
	"github.com/qs3c/melody_go_server/internal/pkg/pubsub"
	"github.com/qs3c/melody_go_server/internal/pkg/queue"
	"github.com/qs3c/melody_go_server/internal/repository"
	"github.com/qs3c/melody_go_server/internal/service"
	"github.com/qs3c/melody_go_server/internal/worker"
)

func main() {
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
	log := logger.New(cfg.Log).With().Str("process", "worker").Logger()

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	store, err := oss.NewStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init audio store")
	}

	// 初始化 Queue 和 Pub/Sub
	jobQueue := queue.NewQueue(rdb, cfg.Queue.GenerationQueue)

	jobRepo := repository.NewJobRepository(db)
	quotaService := service.NewQuotaService(repository.NewUserRepository(db), cfg)
	providers := service.NewProviderRegistry(cfg, log)
	generationService := service.NewGenerationService(service.GenerationDeps{
		DB:           db,
		JobRepo:      jobRepo,
		ArtifactRepo: repository.NewArtifactRepository(db),
		LyricsRepo:   repository.NewLyricsRepository(db),
		Quota:        quotaService,
		Providers:    providers,
		Queue:        jobQueue,
		Notifier:     pubsub.NewPublisher(rdb),
		Blobs:        store,
		Config:       cfg,
		Logger:       log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 轮询：状态持久化在 next_poll_at，重启后继续
	poller := worker.NewPoller(jobRepo, generationService, providers, cfg.Poll, log)
	sweeper := worker.NewSweeper(jobRepo, poller, cfg.Poll, log)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start poll sweeper")
	}
	defer sweeper.Stop()

	// 维护任务：配额重置、补投丢失的派发消息
	maintenance := cron.NewService(quotaService, generationService, cfg.Queue.RequeueAfter, log)
	if err := maintenance.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start cron service")
	}
	defer maintenance.Stop()

	log.Info().Int("workers", cfg.Queue.MaxWorkers).Int("providers", len(providers)).Msg("worker started")

	processor := worker.NewProcessor(generationService, log)
	if err := processor.Run(ctx, jobQueue, cfg.Queue.MaxWorkers); err != nil {
		log.Error().Err(err).Msg("processor stopped with error")
	}

	log.Info().Msg("worker shutdown complete")
}
