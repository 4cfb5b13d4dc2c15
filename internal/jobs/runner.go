package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Handler runs one job attempt; the returned result is persisted on success.
type Handler func(ctx context.Context, job Job) (result any, err error)

type Store interface {
	ClaimBatch(ctx context.Context, workerID string, limit int) ([]Job, error)
	Complete(ctx context.Context, jobID string, result any) error
	Reschedule(ctx context.Context, jobID string, runAt time.Time, errMsg string) error
	Fail(ctx context.Context, jobID, errMsg string) error
}

// Runner claims due jobs in bounded batches and dispatches by job type.
// A failing handler is retried with exponential backoff until max_attempts,
// then parked as failed for operator review. One bad job never stalls the rest
// of its batch.
type Runner struct {
	Store     Store
	ID        string
	BatchSize int
	Log       zerolog.Logger
	Now       func() time.Time // nil -> time.Now

	handlers map[string]Handler
}

func NewRunner(store Store, workerID string, log zerolog.Logger) *Runner {
	return &Runner{
		Store:    store,
		ID:       workerID,
		Log:      log,
		handlers: make(map[string]Handler),
	}
}

func (r *Runner) Register(jobType string, h Handler) {
	r.handlers[jobType] = h
}

func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	limit := r.BatchSize
	if limit <= 0 {
		limit = 5
	}
	batch, err := r.Store.ClaimBatch(ctx, r.ID, limit)
	if err != nil {
		return 0, err
	}
	for _, job := range batch {
		r.runJob(ctx, job)
	}
	return len(batch), nil
}

func (r *Runner) runJob(ctx context.Context, job Job) {
	log := r.Log.With().Str("job_id", job.ID).Str("job_type", job.Type).Int("attempt", job.Attempts).Logger()

	result, err := r.execute(ctx, job)
	if err == nil {
		if cerr := r.Store.Complete(ctx, job.ID, result); cerr != nil {
			log.Error().Err(cerr).Msg("mark job completed failed")
		}
		log.Info().Msg("job completed")
		return
	}

	if job.Attempts >= job.MaxAttempts {
		if ferr := r.Store.Fail(ctx, job.ID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("mark job failed failed")
		}
		log.Error().Err(err).Msg("job failed terminally")
		return
	}

	runAt := r.now().Add(backoffDelay(job.Attempts))
	if rerr := r.Store.Reschedule(ctx, job.ID, runAt, err.Error()); rerr != nil {
		log.Error().Err(rerr).Msg("reschedule job failed")
		return
	}
	log.Warn().Err(err).Time("next_run", runAt).Msg("job rescheduled")
}

// execute races the handler against the job's deadline; exceeding it counts
// as a failed attempt like any other error.
func (r *Runner) execute(ctx context.Context, job Job) (any, error) {
	h, ok := r.handlers[job.Type]
	if !ok {
		return nil, fmt.Errorf("no handler for job type %q", job.Type)
	}

	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds * time.Second
	}
	jctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h(jctx, job)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-jctx.Done():
		return nil, fmt.Errorf("job timed out after %s: %w", timeout, jctx.Err())
	}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}
