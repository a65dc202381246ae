package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"fleetwatch/internal/api"
	"fleetwatch/internal/auth"
	"fleetwatch/internal/bus"
	"fleetwatch/internal/cache"
	"fleetwatch/internal/config"
	"fleetwatch/internal/handlers"
	"fleetwatch/internal/hub"
	"fleetwatch/internal/middleware"
	"fleetwatch/internal/natsbus"
	"fleetwatch/internal/services"
	"fleetwatch/internal/session"
	"fleetwatch/internal/stomp"
	"fleetwatch/internal/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	tokens := tokenProvider(cfg)
	if auth.Expired(tokens.Token(), time.Now()) {
		log.Println("WARN Auth token is expired; the backend will reject requests")
	}

	// Presence mirror (optional)
	var presence cache.Client
	var limiter middleware.Counter
	if cfg.RedisURL != "" {
		redisClient, err := cache.NewRedisClient(cfg.RedisURL, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		presence, limiter = redisClient, redisClient
		log.Println("Connected to Redis")
	}

	var transport bus.Transport
	switch cfg.Bus {
	case config.BusNATS:
		transport = natsbus.NewTransport(cfg.NATSURL, cfg.NATSCreds, cfg.NATSNkeySeed)
		log.Printf("Push bus: NATS at %s", cfg.NATSURL)
	default:
		transport = stomp.NewTransport(cfg.WSURL)
		log.Printf("Push bus: STOMP at %s", cfg.WSURL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	viewers := hub.NewHub()
	var alerts workers.Broadcaster
	if cfg.SlackWebhookURL != "" {
		alerts = services.NewSlackClient(cfg.SlackWebhookURL)
		log.Println("Slack alerts enabled")
	}
	pump := workers.StartUpdatePump(ctx, presence, viewers, alerts)

	sess := session.New(cfg.Session, api.NewClient(cfg.APIBase, tokens), transport, tokens, pump.Notify)
	sess.Start(ctx)
	if cfg.DeviceID != "" {
		if err := sess.SelectDevice(cfg.DeviceID); err != nil {
			log.Printf("WARN Initial device selection failed: %v", err)
		}
	}

	// Router
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	handlers.RegisterDocs(r)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireKey(cfg.APIKey))
		handlers.New(sess, viewers, limiter).RegisterRoutes(r)
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		_ = server.Shutdown(shutdownCtx)
		sess.Close()
		cancel()
		<-pump.Done()
		if n := pump.Dropped(); n > 0 {
			log.Printf("WARN Update pump dropped %d updates", n)
		}
	}()

	log.Printf("Watcher listening on %s", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	<-stopped
	log.Println("Server stopped")
}

func tokenProvider(cfg config.Config) auth.TokenProvider {
	if cfg.AuthToken != "" || cfg.AuthTokenFile == "" {
		return auth.Static(cfg.AuthToken)
	}
	return auth.FileStore{Path: cfg.AuthTokenFile}
}
