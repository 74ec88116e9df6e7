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

	"lesson-booking/internal/auth"
	"lesson-booking/internal/booking"
	"lesson-booking/internal/booking/api"
	"lesson-booking/internal/booking/db"
	bookingkafka "lesson-booking/internal/booking/kafka"
	rediscache "lesson-booking/internal/booking/redis"
	"lesson-booking/internal/config"
	"lesson-booking/internal/logger"
	"lesson-booking/internal/payments"
)

func main() {
	_ = godotenv.Load()

	log := logger.NewLogger()
	defer log.Close()

	cfg := config.Load()

	// --- PostgreSQL Setup ---
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())
	db.Migrate(bunDB)

	// --- Redis Setup ---
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	// --- Kafka Setup ---
	var events booking.EventPublisher = bookingkafka.NoopProducer{}
	if cfg.Kafka.Enabled {
		topics := []string{
			cfg.Kafka.Topics.BookingConfirmed,
			cfg.Kafka.Topics.BookingFailed,
			cfg.Kafka.Topics.SlotReleased,
		}
		if err := bookingkafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Failed to ensure topics exist: %v", err))
		}
		producer := bookingkafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics)
		defer producer.Close()
		events = producer
	} else {
		log.Warn("KAFKA", "Kafka disabled, booking events will not be published")
	}

	// --- Stripe Setup ---
	gateway, err := payments.NewStripeGateway(cfg.Stripe, cfg.Booking, log)
	if err != nil {
		log.Fatal("STRIPE", fmt.Sprintf("Failed to initialize payment gateway: %v", err))
	}

	// --- Service Wiring ---
	store := &db.DB{Bun: bunDB}
	cache := rediscache.NewBookingCache(redisClient, cfg.Booking.CacheTTL)
	service := booking.NewBookingService(store, store, gateway, cache, events, cfg.Booking.ReservationTTL, log)
	handler := api.NewHandler(service, log)

	// --- Router ---
	r := chi.NewRouter()

	r.Get("/api/v1/slots", handler.ListSlots)
	r.Post("/api/v1/checkout", handler.CreateCheckout)
	r.Get("/api/v1/checkout/cancel", handler.CancelCheckout)
	r.Post("/api/v1/stripe/webhook", handler.StripeWebhook)
	r.Get("/api/v1/bookings/session/{sessionId}", handler.GetBookingBySession)
	r.Get("/api/v1/customers/{userId}/bookings", handler.GetCustomerBookings)
	r.Get("/api/v1/slots/decode", handler.DecodeSnapshot)

	r.Group(func(r chi.Router) {
		r.Use(auth.AdminMiddleware(cfg.Auth.JWTSecret))
		r.Post("/api/v1/slots", handler.CreateSlot)
		r.Post("/api/v1/slots/batch", handler.CreateSlotBatch)
	})

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("Booking service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("SERVER", "Shutdown signal received, cleaning up")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("SERVER", fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	log.Info("SERVER", "Server exited gracefully")
}
