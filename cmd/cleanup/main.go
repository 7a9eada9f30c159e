package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/qs3c/melody_go_server/config"
	"github.com/qs3c/melody_go_server/internal/database"
	"github.com/qs3c/melody_go_server/internal/pkg/logger"
	"github.com/qs3c/melody_go_server/internal/repository"
)

var (
	dryRun      = flag.Bool("dry-run", true, "Dry run mode, only report what would be cleaned")
	olderThan   = flag.Int("older-than", 7, "Days since the job finished")
	cleanPolls  = flag.Bool("clean-polls", true, "Clear poll bookkeeping of finished jobs")
	cleanLyrics = flag.Bool("clean-lyrics", true, "Delete lyrics records of finished jobs")
)

func main() {
	flag.Parse()
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
	log := logger.New(cfg.Log).With().Str("process", "cleanup").Bool("dry_run", *dryRun).Logger()

	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	ctx := context.Background()
	before := time.Now().Add(-time.Duration(*olderThan) * 24 * time.Hour)
	jobRepo := repository.NewJobRepository(db)
	lyricsRepo := repository.NewLyricsRepository(db)

	// 1. 终态任务的轮询字段
	if *cleanPolls {
		n, err := jobRepo.CountPollBookkeeping(ctx, before)
		if err != nil {
			log.Fatal().Err(err).Msg("count poll bookkeeping failed")
		}
		if !*dryRun && n > 0 {
			if n, err = jobRepo.ClearPollBookkeeping(ctx, before); err != nil {
				log.Fatal().Err(err).Msg("clear poll bookkeeping failed")
			}
		}
		log.Info().Int64("jobs", n).Time("before", before).Msg("poll bookkeeping")
	}

	// 2. 终态任务的歌词子任务记录
	if *cleanLyrics {
		n, err := lyricsRepo.CountStale(ctx, before)
		if err != nil {
			log.Fatal().Err(err).Msg("count lyrics records failed")
		}
		if !*dryRun && n > 0 {
			if n, err = lyricsRepo.DeleteStale(ctx, before); err != nil {
				log.Fatal().Err(err).Msg("delete lyrics records failed")
			}
		}
		log.Info().Int64("records", n).Time("before", before).Msg("lyrics records")
	}

	if *dryRun {
		log.Warn().Msg("dry run, nothing was changed; run with -dry-run=false to apply")
		return
	}
	log.Info().Msg("cleanup completed")
}
