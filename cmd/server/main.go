package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/suPer8Hu/lovely-prompts/internal/config"
	"github.com/suPer8Hu/lovely-prompts/internal/db"
	"github.com/suPer8Hu/lovely-prompts/internal/events"
	"github.com/suPer8Hu/lovely-prompts/internal/httpapi"
	"github.com/suPer8Hu/lovely-prompts/internal/project"
	"github.com/suPer8Hu/lovely-prompts/internal/prompts"
	"github.com/suPer8Hu/lovely-prompts/internal/store/rabbitmq"
	"github.com/suPer8Hu/lovely-prompts/internal/store/redisstore"
	"github.com/suPer8Hu/lovely-prompts/internal/syncer"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	projects := project.NewManager(cfg.DataDir, db.ParseLogLevel(cfg.DBLogLevel))
	defer projects.Close()
	if _, err := projects.Create(ctx, project.Default); err != nil {
		log.Fatalf("open default project: %v", err)
	}

	hub := events.NewHub()
	var bc events.Broadcaster = hub

	switch cfg.EventRelay {
	case "local":
	case "redis":
		rds, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rds.Close()

		relay := events.NewRedisRelay(rds, hub)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("event relay stopped: %v", err)
			}
		}()
		bc = relay
	default:
		log.Fatalf("unsupported EVENT_RELAY=%q", cfg.EventRelay)
	}

	var pub syncer.Publisher
	if cfg.SyncEnabled {
		p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatalf("rabbit publisher: %v", err)
		}
		defer p.Close()
		pub = p
	}

	svc := prompts.NewService(projects, bc, pub)
	r := httpapi.NewRouter(cfg, projects, svc, hub)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		log.Printf("server listening addr=%s data_dir=%s relay=%s sync=%t auth=%t",
			cfg.HTTPAddr, cfg.DataDir, cfg.EventRelay, cfg.SyncEnabled, cfg.AuthRequired)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
}
