package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/cocina/chat-app/internal/gateway"
	"github.com/cocina/chat-app/internal/message"
	"github.com/cocina/chat-app/internal/metrics"
	"github.com/cocina/chat-app/internal/realtime"
	"github.com/cocina/chat-app/internal/session"
	"github.com/cocina/chat-app/internal/stream"
	"github.com/cocina/chat-app/internal/typing"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	gatewayConfig := gateway.DefaultConfig()
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		gatewayConfig.ListenAddr = addr
	}

	metricsAddr := ":9090"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}

	databaseURL := "postgres://localhost:5432/cocina_chat?sslmode=disable"
	if v := os.Getenv("DATABASE_URL"); v != "" {
		databaseURL = v
	}

	migrationsURL := "file://migrations"
	if v := os.Getenv("MIGRATIONS_URL"); v != "" {
		migrationsURL = v
	}

	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}

	typingWindow := typing.DefaultStalenessWindow
	if v := os.Getenv("TYPING_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			typingWindow = d
		}
	}
	typingTick := typing.DefaultTickInterval
	if v := os.Getenv("TYPING_TICK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			typingTick = d
		}
	}

	// --- PostgreSQL ---
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	cancel()

	m, err := migrate.New(migrationsURL, databaseURL)
	if err != nil {
		log.Fatalf("failed to init migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// --- NATS ---
	busConfig := realtime.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		busConfig.URL = v
	}
	bus, err := realtime.New(busConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	messageStore := message.NewStore(db, bus)
	heartbeatStore := typing.NewStore(rdb)

	log.Printf("Cocina chat server starting")
	log.Printf("  listen_addr:   %s", gatewayConfig.ListenAddr)
	log.Printf("  metrics_addr:  %s", metricsAddr)
	log.Printf("  database_url:  %s", databaseURL)
	log.Printf("  redis_addr:    %s", redisAddr)
	log.Printf("  nats_url:      %s", busConfig.URL)
	log.Printf("  typing_window: %s", typingWindow)
	log.Printf("  typing_tick:   %s", typingTick)

	// newSession wires one controller per gateway connection. Authenticated
	// identities are registered so history and enrichment joins resolve.
	newSession := func(identity session.Identity, onUpdate func(session.Snapshot)) *session.Controller {
		if identity.AuthorID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := messageStore.UpsertAuthor(ctx, identity.AuthorID, identity.Handle, identity.Role); err != nil {
				log.Printf("[main] register author %s: %v", identity.AuthorID, err)
			}
			cancel()
		}

		return session.NewController(session.Config{
			Identity: identity,
			History:  stream.NewHistoryLoader(messageStore),
			Live:     stream.NewLiveSubscriber(bus, messageStore),
			Presence: typing.NewTrackerWithWindow(heartbeatStore, bus, typingWindow, typingTick),
			Writer:   messageStore,
			Typist:   typing.NewPublisher(heartbeatStore, bus, identity.AuthorID, identity.Handle),
			OnUpdate: onUpdate,
		})
	}

	server := gateway.NewServer(gatewayConfig, newSession)

	go func() {
		log.Printf("[main] metrics on %s/metrics", metricsAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("[main] metrics server: %v", err)
		}
	}()

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("gateway server error: %v", err)
		}
	}()

	// Block until shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[main] received %s, shutting down", sig)

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[main] gateway shutdown: %v", err)
	}
	bus.Close()
	if err := rdb.Close(); err != nil {
		log.Printf("[main] redis close: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("[main] database close: %v", err)
	}
	log.Printf("[main] shutdown complete")
}
