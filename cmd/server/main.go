package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lawble/courtsync/internal/cache"
	"github.com/lawble/courtsync/internal/config"
	"github.com/lawble/courtsync/internal/database"
	"github.com/lawble/courtsync/internal/server"
	"github.com/lawble/courtsync/pkg/logger"
)

func main() {
	var migrate bool
	flag.BoolVar(&migrate, "migrate", false, "Run database migrations")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize database", "error", err)
	}

	if migrate {
		if err := database.RunMigrations(db); err != nil {
			log.Fatal("Failed to run migrations", "error", err)
		}
		log.Info("Database migrations completed successfully")
		return
	}

	snapCache := cache.NewCache(cfg.CacheSize, cfg.CacheTTL)

	srv := server.New(cfg, db, snapCache, log)

	log.Info("Starting court record sync service",
		"host", cfg.Host,
		"port", cfg.Port,
		"portal", cfg.PortalBaseURL,
	)

	if err := srv.Run(); err != nil {
		log.Fatal("Server failed to start", "error", err)
	}
}
