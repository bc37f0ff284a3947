package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"casino/internal/cache"
	"casino/internal/config"
	"casino/internal/crash"
	"casino/internal/database"
	"casino/internal/jobs"
	"casino/internal/server"
)

func gracefulShutdown(srv *server.FiberServer, sched *jobs.Scheduler, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sched.Shutdown(); err != nil {
		log.Printf("[JOBS] Scheduler shutdown error: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")
	done <- true
}

func main() {
	cfg := config.Load()

	redisService := cache.New(cfg)
	db := database.New(cfg)

	var (
		opts    []crash.Option
		finders []server.RoundFinder
		store   jobs.ArchiveStore
	)

	if redisService != nil {
		rounds := cache.NewRoundCache(redisService.GetClient(), cfg.Crash.HistorySize, cache.ROUND_TTL)
		opts = append(opts, crash.WithArchiver(rounds), crash.WithHistoryLoader(rounds))
		finders = append(finders, rounds)
	}

	if db != nil {
		if err := database.RunMigrations(db.DB(), cfg.MigrationsPath); err != nil {
			log.Fatalf("[DB] Migration failed: %v", err)
		}
		rounds := database.NewRoundStore(db.DB())
		opts = append(opts, crash.WithArchiver(rounds))
		if redisService == nil {
			opts = append(opts, crash.WithHistoryLoader(rounds))
		}
		finders = append(finders, rounds)
		store = rounds
	}

	manager := crash.NewManager(cfg.Crash, opts...)
	if err := manager.Start(context.Background()); err != nil {
		log.Fatalf("[CRASH] Failed to start round manager: %v", err)
	}

	sched, err := jobs.NewScheduler(jobs.Config{
		ArchiveRetention: cfg.ArchiveRetention,
		PruneInterval:    cfg.PruneInterval,
		StatsInterval:    cfg.StatsInterval,
	}, manager, store, nil)
	if err != nil {
		log.Fatalf("[JOBS] %v", err)
	}
	sched.Start()

	srv := server.New(cfg, manager, db, redisService, finders...)
	srv.RegisterFiberRoutes()

	done := make(chan bool, 1)
	go gracefulShutdown(srv, sched, done)

	log.Printf("[SERVER] Listening on :%d", cfg.Port)
	if err := srv.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	<-done
	log.Println("Graceful shutdown complete.")
}
