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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/handler"
	"github.com/chatrelay/internal/identity"
	"github.com/chatrelay/internal/ledger"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/room"
	"github.com/chatrelay/internal/startup"
	"github.com/chatrelay/internal/ws"
)

func main() {
	logger.SetPrefix("relay")
	logger.Info("starting relay service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Errorf("relay: %v", err)
		// let the async logger drain
		time.Sleep(100 * time.Millisecond)
		os.Exit(1)
	}
	logger.Info("relay stopped")
	time.Sleep(50 * time.Millisecond)
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := startup.PresenceStore(ctx, cfg.Presence.RedisURL, 30*time.Second)
	if err != nil {
		return fmt.Errorf("presence store: %w", err)
	}
	defer store.Close()

	users := identity.NewRegistry()
	rooms := room.NewRegistry(cfg.Relay.TypingStale)
	if err := rooms.Bootstrap(room.DefaultRooms()); err != nil {
		return fmt.Errorf("bootstrap rooms: %w", err)
	}
	messages := ledger.New()
	mirror := presence.NewMirror(store, cfg.Presence.TTL)

	hub := ws.NewHub(users, rooms, messages, cfg.Relay,
		ws.WithPresence(mirror),
		ws.WithMaxConnections(cfg.MaxWSConnections),
	)

	relayH := handler.NewRelayHandler(users, rooms, mirror)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins, ws.ClientConfig{
		SendBuffer:     cfg.WSSendBufferSize,
		MaxMessageSize: cfg.WSMaxMessageSize,
		WriteWait:      cfg.WSWriteTimeout,
		PongWait:       cfg.WSPongTimeout,
	})

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(metrics.HTTPMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins(),
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", handler.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/rooms", relayH.ListRooms)
	r.Get("/api/rooms/{roomID}", relayH.GetRoom)
	r.Get("/api/users/online", relayH.ListOnline)
	r.Get("/api/presence", relayH.ListPresence)
	r.Group(func(r chi.Router) {
		if cfg.WSConnectRate > 0 {
			r.Use(middleware.RateLimit(store, "ws", cfg.WSConnectRate, time.Minute))
		}
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// The hub outlives the HTTP server so in-flight upgrades still register;
	// the mirror outlives the hub so its last updates are flushed.
	hubCtx, stopHub := context.WithCancel(context.Background())
	mirrorCtx, stopMirror := context.WithCancel(context.Background())
	defer stopHub()
	defer stopMirror()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopMirror()
		return hub.Run(hubCtx)
	})
	g.Go(func() error {
		return mirror.Run(mirrorCtx)
	})
	g.Go(func() error {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		logger.Info("server stopped accepting connections")
		stopHub()
		if err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
