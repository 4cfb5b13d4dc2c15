package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/kedai/orderflow/internal/config"
	"github.com/kedai/orderflow/internal/httpx"
	"github.com/kedai/orderflow/internal/orders"
	"github.com/kedai/orderflow/internal/postgres"
	"github.com/kedai/orderflow/internal/queue"
	"github.com/kedai/orderflow/internal/recon"
	"github.com/kedai/orderflow/internal/redisx"
	"github.com/kedai/orderflow/internal/stock"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName+"-api").Logger()

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

	// Repos & matcher
	queueRepo := &queue.Repo{DB: db}
	orderRepo := &orders.Repo{DB: db}
	reconRepo := &recon.Repo{DB: db}
	stockRepo := &stock.Engine{DB: db}
	matcher := &recon.Matcher{
		Orders:   orderRepo,
		Provider: recon.NewProviderClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey),
		Records:  reconRepo,
		Log:      log,
	}

	// Router & handlers
	router := httpx.NewRouter()
	(&httpx.CheckoutHandler{Queue: queueRepo, Idem: &redisx.Idem{R: rdb}, Service: cfg.ServiceName, Log: log}).Register(router)
	(&httpx.OrdersHandler{Orders: orderRepo, Stock: stockRepo, Redis: rdb}).Register(router)
	(&httpx.ReconHandler{Matcher: matcher, Records: reconRepo, Log: log}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
}
