package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"github.com/akinalp/threadline/config"
	"github.com/akinalp/threadline/database"
	"github.com/akinalp/threadline/docstore"
	"github.com/akinalp/threadline/pkg/metrics"
	"github.com/akinalp/threadline/pkg/ratelimit"
	"github.com/akinalp/threadline/ws"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] threadline server starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] failed to load config: %v", err)
	}
	log.Printf("[main] config loaded (port=%d, database=%s)", cfg.Server.Port, cfg.Database.ID)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("[main] failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, err := newBus(ctx, cfg.Realtime)
	if err != nil {
		log.Fatalf("[main] failed to initialize event bus: %v", err)
	}

	app := newApp(cfg, db, bus, clock.New())
	defer app.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[main] listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[main] server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[main] shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] graceful shutdown failed: %v", err)
	}
	log.Println("[main] server stopped")
}

// newBus returns the Redis bus when a URL is configured, otherwise events
// stay in this process.
func newBus(ctx context.Context, cfg config.RealtimeConfig) (docstore.Bus, error) {
	if cfg.RedisURL == "" {
		log.Println("[main] realtime bus: in-memory")
		return docstore.NewMemoryBus(), nil
	}
	bus, err := docstore.NewRedisBus(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	log.Println("[main] realtime bus: redis")
	return bus, nil
}

// App is the wired server: the root handler plus everything that must be
// stopped on shutdown.
type App struct {
	Handler  http.Handler
	Services *Services
	Hub      *ws.Hub

	bus     docstore.Bus
	limiter *ratelimit.MessageRateLimiter
}

// newApp wires store, repositories, services, handlers and routes.
func newApp(cfg *config.Config, db *database.DB, bus docstore.Bus, clk clock.Clock) *App {
	m := metrics.New(prometheus.NewRegistry())

	store := docstore.NewSQLiteStore(db.Conn, bus, cfg.Database.ID, clk)
	repos := initRepositories(store)
	svcs := initServices(cfg, repos, m, clk)

	limiter := ratelimit.NewMessageRateLimiter(
		cfg.RateLimit.MessageBurst,
		cfg.RateLimit.MessageWindow,
		cfg.RateLimit.MessageCooldown,
		clk,
	)

	hub := ws.NewHub(store, "databases."+store.DatabaseID()+".", m)
	hub.OnUserFullyDisconnected(func(userID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svcs.Typing.ClearUser(ctx, userID); err != nil {
			log.Printf("[typing] %v", err)
		}
	})
	go hub.Run()

	h := initHandlers(svcs, limiter, hub, db.Conn)

	mux := http.NewServeMux()
	initRoutes(mux, h, svcs.Token, m)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: !containsWildcard(cfg.Server.CORSOrigins),
	})

	return &App{
		Handler:  c.Handler(mux),
		Services: svcs,
		Hub:      hub,
		bus:      bus,
		limiter:  limiter,
	}
}

// Close stops the hub, the rate limiter cleanup and the event bus.
func (a *App) Close() {
	a.Hub.Shutdown()
	a.limiter.Stop()
	if err := a.bus.Close(); err != nil {
		log.Printf("[main] failed to close event bus: %v", err)
	}
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
