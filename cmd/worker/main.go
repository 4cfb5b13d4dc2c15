package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/kedai/orderflow/internal/config"
	"github.com/kedai/orderflow/internal/events"
	"github.com/kedai/orderflow/internal/jobs"
	kafkax "github.com/kedai/orderflow/internal/kafka"
	"github.com/kedai/orderflow/internal/notify"
	"github.com/kedai/orderflow/internal/orders"
	"github.com/kedai/orderflow/internal/postgres"
	"github.com/kedai/orderflow/internal/queue"
	"github.com/kedai/orderflow/internal/recon"
	"github.com/kedai/orderflow/internal/stock"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	workerID := cfg.ServiceName + "-worker-" + uuid.NewString()[:8]
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName+"-worker").Str("worker_id", workerID).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Producers: satu per topic
	pAdmitted := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicOrderAdmitted, 1024, log)
	pAdmitted.Start(ctx)
	pRejected := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicOrderRejected, 1024, log)
	pRejected.Start(ctx)
	pKitchen := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicKitchenTicket, 1024, log)
	pKitchen.Start(ctx)
	pAnalytics := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicAnalytics, 1024, log)
	pAnalytics.Start(ctx)

	// Repos
	engine := &stock.Engine{DB: db}
	orderRepo := &orders.Repo{DB: db}
	queueRepo := &queue.Repo{DB: db}
	jobRepo := &jobs.Repo{DB: db}

	// Queue worker
	admission := &queue.Worker{
		Store:          queueRepo,
		Stock:          engine,
		Orders:         orderRepo,
		Jobs:           jobRepo,
		Events:         pAdmitted,
		Rejected:       pRejected,
		ID:             workerID,
		BatchSize:      cfg.QueueBatchSize,
		ReservationTTL: cfg.ReservationTTL,
		Service:        cfg.ServiceName + "-worker",
		Log:            log,
	}

	// Job runner
	runner := jobs.NewRunner(jobRepo, workerID, log)
	runner.BatchSize = cfg.JobBatchSize
	handlers := &jobs.Handlers{
		Stock:         engine,
		Orders:        orderRepo,
		Provider:      recon.NewProviderClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey),
		Mailer:        notify.NewMailer(cfg.MailerBaseURL),
		Kitchen:       pKitchen,
		Analytics:     pAnalytics,
		Service:       cfg.ServiceName + "-worker",
		RetentionDays: cfg.AuditRetentionDays,
		Log:           log,
	}
	handlers.RegisterAll(runner)

	go pollLoop(ctx, cfg.WorkPollInterval, log, func(c context.Context) {
		if _, err := admission.RunOnce(c); err != nil {
			log.Error().Err(err).Msg("queue batch failed")
		}
		if _, err := runner.RunOnce(c); err != nil {
			log.Error().Err(err).Msg("job batch failed")
		}
	})

	go pollLoop(ctx, cfg.SweepInterval, log, func(c context.Context) {
		if n, err := engine.ExpireSweep(c, time.Now().UTC(), 100); err != nil {
			log.Error().Err(err).Msg("expiry sweep failed")
		} else if n > 0 {
			log.Info().Int("expired", n).Msg("reservations expired")
		}
	})

	go pollLoop(ctx, cfg.MaintenanceInterval, log, func(c context.Context) {
		for _, jt := range []string{jobs.TypeOrderCleanup, jobs.TypeStockReconciliation} {
			if _, created, err := jobRepo.EnqueueIfNone(c, jt, struct{}{}); err != nil {
				log.Error().Err(err).Str("job_type", jt).Msg("enqueue maintenance job failed")
			} else if created {
				log.Info().Str("job_type", jt).Msg("maintenance job enqueued")
			}
		}
	})

	log.Info().
		Dur("poll", cfg.WorkPollInterval).
		Dur("sweep", cfg.SweepInterval).
		Msg("worker started")

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down worker...")
	cancel()
	pAdmitted.WaitClosed()
	pRejected.WaitClosed()
	pKitchen.WaitClosed()
	pAnalytics.WaitClosed()
}

func pollLoop(ctx context.Context, every time.Duration, log zerolog.Logger, fn func(context.Context)) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}
