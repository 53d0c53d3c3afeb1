package cmd

import (
	"context"
	"time"

	"airadio/config"
	"airadio/db"
	"airadio/logger"
	"airadio/repository"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Sweep TTSArtifacts stuck in pending past their age threshold and mark them failed, then exit.",
	Long: "One-shot crash-safety pass grounded on the original check_pending_intro.py script: " +
		"a process that dies mid-synthesis leaves a TTSArtifact in pending forever unless " +
		"something moves it to failed. Safe to run standalone (cron) or let serve run it on its own schedule.",
	Run: func(cmd *cobra.Command, args []string) {
		runSweep()
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.InfoLevel,
		OutputPath: "logs/airadio.log",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("failed to connect to database", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("failed to connect to redis", logger.ErrorField(err))
	}
	defer db.CloseRedis()

	store := repository.NewGormStore(db.GormDB, db.RedisClient)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := store.SweepStalePending(ctx, cfg.ArtifactGCAge)
	if err != nil {
		logger.Fatal("sweep failed", logger.ErrorField(err))
	}
	logger.Info("sweep complete", logger.Int("swept", n))
}
