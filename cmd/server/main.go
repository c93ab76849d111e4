/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the booking engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse flags
  2. Initialize the SQLite store
  3. Wire domain services: inventory, ledger, settlement, bookings, payouts
  4. Configure the HTTP router and start the background sweeper
  5. Start the server with graceful shutdown

CONFIGURATION:
  Flags override environment variables:
    -port / PORT         HTTP server port (default: 8080)
    -db   / DATABASE     SQLite database path (default: booking.db)
                         Use ":memory:" for an in-memory database
    -env  / APP_ENV      "development" or "production" (log format)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - api/sweeper.go: Background sweeps
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mentorhive/booking-engine/api"
	"github.com/mentorhive/booking-engine/booking"
	"github.com/mentorhive/booking-engine/core"
	"github.com/mentorhive/booking-engine/ledger"
	"github.com/mentorhive/booking-engine/payout"
	"github.com/mentorhive/booking-engine/schedule"
	"github.com/mentorhive/booking-engine/settlement"
	"github.com/mentorhive/booking-engine/store/sqlite"
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE", "booking.db"), "SQLite database path")
	env := flag.String("env", envStr("APP_ENV", "development"), "environment: development or production")
	flag.Parse()

	logger := newLogger(*env)
	defer logger.Sync()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	clock := core.SystemClock{}

	inventory := schedule.NewInventory(store, store, clock, store, logger.Named("schedule"))
	led := ledger.New(store, clock)

	orch := settlement.NewOrchestrator(led, store, core.NopNotifier{}, clock,
		settlement.DefaultConfig(), logger.Named("settlement"))

	bookings := booking.NewService(store, store, inventory, core.EmptySessionLookup{},
		clock, store, booking.DefaultConfig(), logger.Named("booking"))
	bookings.Sink = orch

	payouts := payout.NewService(store, led, clock, store,
		core.NewMoneyFromInt(10, core.DefaultCurrency), logger.Named("payout"))

	handler := api.NewHandler(inventory, bookings, payouts, led, logger.Named("api"))
	router := api.NewRouter(handler)

	sweeper := api.NewSweeper(bookings, orch, store, clock, logger.Named("sweeper"))
	if err := sweeper.Start(); err != nil {
		logger.Fatal("failed to start sweeper", zap.Error(err))
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", *port),
			zap.String("db", *dbPath),
			zap.String("env", *env))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(env string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
