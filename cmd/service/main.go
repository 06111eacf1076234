package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"

	"syncroom/internal/api"
	"syncroom/internal/config"
	"syncroom/internal/github"
	"syncroom/internal/library"
	"syncroom/internal/realtime"
	"syncroom/internal/room"
	"syncroom/internal/transport"
)

func main() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	var cfg config.Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("syncroom: config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("syncroom: invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	var ch transport.Channel
	switch cfg.Redis.Backend {
	case "docstore":
		ch = transport.NewDocStore(rdb, time.Duration(cfg.Redis.PollInterval)*time.Millisecond)
	default:
		ch = transport.NewBroker(rdb)
	}

	reg := room.NewRegistry()
	reg.StartCleanup(ctx,
		time.Duration(cfg.Presence.RoomCleanupMinutes)*time.Minute,
		time.Duration(cfg.Presence.RoomIdleMinutes)*time.Minute)

	monitor := room.NewMonitor(reg,
		time.Duration(cfg.Presence.SweepSeconds)*time.Second,
		time.Duration(cfg.Presence.StaleSeconds)*time.Second)
	go monitor.Run(ctx)

	playlists := room.NewPlaylistStore(reg, ch)

	hub := realtime.NewHub()
	rt := realtime.NewServer(ctx, hub, reg, monitor, playlists, ch)
	go hub.Run()

	if cfg.Github.Owner != "" && cfg.Github.Repo != "" {
		rt.SetImporter(github.NewClient(
			cfg.Github.Owner, cfg.Github.Repo, cfg.Github.Branch, cfg.Github.Path, ""))
	}

	if err := os.MkdirAll(cfg.Audio.Dir, 0o755); err != nil {
		log.Fatalf("syncroom: audio dir: %v", err)
	}
	lib := library.NewServer(cfg.Audio.Dir, rt)

	r := api.New(
		api.Deps{Realtime: rt, Library: lib},
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	srv := &http.Server{
		Addr:              cfg.Rest.Address,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.Rest.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Rest.WriteTimeout) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.Rest.ReadHeaderTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.Rest.IdleTimeout) * time.Second,
	}

	go func() {
		log.Printf("syncroom listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("syncroom: %v", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	<-signalChan

	log.Println("syncroom: shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("syncroom: shutdown: %v", err)
	}
}
