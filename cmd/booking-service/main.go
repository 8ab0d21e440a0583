package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"cricverse-booking/internal/auth"
	"cricverse-booking/internal/booking"
	booking_api "cricverse-booking/internal/booking/api"
	bookingdb "cricverse-booking/internal/booking/db"
	rediswrap "cricverse-booking/internal/booking/redis"
	"cricverse-booking/internal/config"
	"cricverse-booking/internal/database/migrations"
	"cricverse-booking/internal/inventory"
	inventory_api "cricverse-booking/internal/inventory/api"
	"cricverse-booking/internal/kafka"
	"cricverse-booking/internal/logger"
	"cricverse-booking/internal/sweeper"
	"cricverse-booking/internal/tickets"
	"cricverse-booking/internal/tickets/qr"
)

func main() {
	// .env is optional outside local dev
	_ = godotenv.Load()
	cfg := config.Load()
	lg := logger.NewLogger()
	defer lg.Close()

	ctx := context.Background()

	// --- PostgreSQL ---
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		lg.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.RunMigrations(); err != nil {
		lg.Warn("DATABASE", fmt.Sprintf("SQL migrations unavailable (%v), bootstrapping schema from models", err))
		bookingdb.Migrate(bunDB)
	}

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		lg.Fatal("REDIS", fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	// --- Kafka ---
	var producer booking.Publisher
	var sweepPublisher sweeper.Publisher
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.AllTopics()); err != nil {
			lg.Warn("KAFKA", fmt.Sprintf("Topic bootstrap failed: %v", err))
		}
		p := kafka.NewProducer(cfg.Kafka.Brokers)
		defer p.Close()
		producer = p
		sweepPublisher = p
	} else {
		lg.Warn("KAFKA", "Kafka disabled, reservation events will not be streamed")
	}

	// --- Dependencies ---
	store := &bookingdb.DB{Bun: bunDB}
	gate := rediswrap.NewGate(redisClient, cfg.Booking.HoldTimeout)
	inv := &inventory.DB{Bun: bunDB}
	issuer := tickets.NewIssuer(bunDB, qr.NewGenerator(cfg.Auth.QRSecret))

	service := booking.NewService(store, gate, inv, producer, issuer, lg, cfg.Booking.HoldTimeout)
	bookingHandler := &booking_api.Handler{Booking: service}
	inventoryHandler := &inventory_api.Handler{Inventory: inv}

	sweep := sweeper.New(store, gate, sweepPublisher, lg, cfg.Booking.HoldTimeout, cfg.Booking.SweepInterval)
	if err := sweep.Start(ctx); err != nil {
		lg.Fatal("SWEEPER", fmt.Sprintf("Failed to start sweeper: %v", err))
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware([]byte(cfg.Auth.JWTSecret)))

		r.Post("/api/v1/events/{eventId}/reservations", bookingHandler.Reserve)
		r.Post("/api/v1/reservations/{attemptId}/confirm", bookingHandler.Confirm)
		r.Post("/api/v1/reservations/{attemptId}/release", bookingHandler.Release)
		r.Get("/api/v1/reservations/{attemptId}", bookingHandler.GetAttempt)

		r.Get("/api/v1/events/{eventId}/seats", inventoryHandler.GetSeats)
		r.Get("/api/v1/events/{eventId}/venues/{venueId}/seats", inventoryHandler.ListVenueSeats)
		r.Post("/api/v1/venues/{venueId}/seats", inventoryHandler.CreateSeats)
		r.Delete("/api/v1/seats/{seatId}", inventoryHandler.DisableSeat)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		lg.Info("SERVER", fmt.Sprintf("Booking service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal("SERVER", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info("SERVER", "Shutdown signal received, cleaning up")

	sweep.Stop()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		lg.Fatal("SERVER", fmt.Sprintf("Server forced to shutdown: %v", err))
	}
	lg.Info("SERVER", "Server exited gracefully")
}
