package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/kedai/orderflow/internal/config"
	"github.com/kedai/orderflow/internal/events"
	kafkax "github.com/kedai/orderflow/internal/kafka"
	"github.com/kedai/orderflow/internal/kitchen"
	"github.com/kedai/orderflow/internal/orders"
	"github.com/kedai/orderflow/internal/postgres"
	"github.com/kedai/orderflow/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName+"-kitchen").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &kitchen.Service{
		Orders:      &orders.Repo{DB: db},
		Dedup:       &redisx.Dedup{R: rdb},
		ServiceName: cfg.ServiceName + "-kitchen",
		Log:         log,
	}

	group := getenv("KITCHEN_GROUP", "kitchen-svc")
	workers := mustAtoi(os.Getenv("KITCHEN_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, events.TopicKitchenTicket, workers, log)

	go func() {
		log.Info().Str("group", group).Int("workers", workers).Msg("kitchen consumer started")
		if err := cons.Start(ctx, svc.HandleTicket); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down consumer...")
	cancel()
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
