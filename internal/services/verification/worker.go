package verification

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/addispay/telebirr-service/internal/config"
	"github.com/addispay/telebirr-service/internal/domain"
	"github.com/addispay/telebirr-service/internal/domain/ports"
	"github.com/addispay/telebirr-service/pkg/resilience"
)

const (
	defaultConcurrency = 4
	queueCapacity      = 256
)

var (
	verificationJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telebirr_verification_jobs_total",
		Help: "Verification jobs by final state",
	}, []string{"state"})

	verificationAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "telebirr_verification_attempts",
		Help:    "Attempts used per verification job by final state",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
	}, []string{"state"})

	verificationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telebirr_verification_queue_depth",
		Help: "Verification jobs waiting in the queue",
	})
)

// Worker drives payment verification jobs through their retry schedule.
//
// A job queries the gateway until it gets a definitive answer or exhausts its
// attempt budget. PAY_SUCCESS emits the verified event exactly once and the
// job succeeds; PAY_FAILED is terminal without an event; anything else waits
// out the schedule and retries. Jobs for a reference already in flight are
// coalesced: verification reads gateway state, so a second concurrent job for
// the same reference can learn nothing the first will not.
type Worker struct {
	gateway ports.PaymentGateway
	events  ports.EventSink
	logger  *zap.Logger

	tries       int
	timeout     time.Duration
	enabled     bool
	backoff     resilience.BackoffStrategy
	concurrency int

	jobs chan *domain.VerificationJob

	mu     sync.Mutex
	active map[string]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker creates a verification worker from configuration.
func NewWorker(gateway ports.PaymentGateway, events ports.EventSink, cfg config.VerifyConfig, logger *zap.Logger) *Worker {
	return &Worker{
		gateway:     gateway,
		events:      events,
		logger:      logger,
		tries:       cfg.Tries,
		timeout:     cfg.Timeout,
		enabled:     cfg.Enabled,
		backoff:     &resilience.ScheduleBackoff{Schedule: cfg.RetrySchedule},
		concurrency: defaultConcurrency,
		jobs:        make(chan *domain.VerificationJob, queueCapacity),
		active:      make(map[string]struct{}),
	}
}

// Start launches the worker goroutines. They run until Stop is called or the
// context is cancelled; a job in flight observes cancellation between
// attempts and ends Cancelled.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-w.jobs:
					verificationQueueDepth.Dec()
					w.process(ctx, job)
					w.release(job.Reference)
				}
			}
		}()
	}
}

// Stop cancels the workers and waits for in-flight jobs to settle.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Enqueue submits a job for verification. With queueing disabled the job is
// processed synchronously on the caller's goroutine. Returns false when the
// job was coalesced into one already in flight for the same reference, or
// when the queue is full.
func (w *Worker) Enqueue(ctx context.Context, job *domain.VerificationJob) bool {
	if !w.claim(job.Reference) {
		w.logger.Debug("verification already in flight, coalescing",
			zap.String("reference", job.Reference),
		)
		return false
	}

	if !w.enabled {
		w.process(ctx, job)
		w.release(job.Reference)
		return true
	}

	select {
	case w.jobs <- job:
		verificationQueueDepth.Inc()
		return true
	default:
		w.release(job.Reference)
		w.logger.Error("verification queue full, dropping job",
			zap.String("reference", job.Reference),
		)
		verificationJobs.WithLabelValues("dropped").Inc()
		return false
	}
}

func (w *Worker) claim(reference string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, inFlight := w.active[reference]; inFlight {
		return false
	}
	w.active[reference] = struct{}{}
	return true
}

func (w *Worker) release(reference string) {
	w.mu.Lock()
	delete(w.active, reference)
	w.mu.Unlock()
}

// process runs one job to a terminal state.
func (w *Worker) process(ctx context.Context, job *domain.VerificationJob) {
	logger := w.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("reference", job.Reference),
	)

	for attempt := 1; attempt <= w.tries; attempt++ {
		job.State = domain.JobVerifying
		job.Attempts = attempt

		attemptCtx, cancel := context.WithTimeout(ctx, w.timeout)
		result := w.gateway.VerifyPayment(attemptCtx, tenantContext(job), job.Reference)
		cancel()

		switch result.Outcome {
		case domain.OutcomeSuccess:
			switch result.Status.OrderStatus {
			case domain.OrderStatusSuccess:
				w.finish(job, domain.JobSucceeded, logger)
				w.events.Emit(ctx, domain.EventPaymentVerified, &domain.PaymentVerifiedPayload{
					Reference: job.Reference,
					Status:    result.Status,
					Webhook:   job.Webhook,
				})
				return
			case domain.OrderStatusFailed:
				logger.Info("payment verification found failed payment")
				w.finish(job, domain.JobFailed, logger)
				return
			}
			// Pending status, fall through to retry.
			logger.Debug("payment not settled yet",
				zap.Int("attempt", attempt),
				zap.String("order_status", result.Status.OrderStatus),
			)

		case domain.OutcomeError:
			logger.Error("payment verification hit a fatal error",
				zap.Int("attempt", attempt),
				zap.Error(result.Err),
			)
			w.finish(job, domain.JobFailed, logger)
			return

		case domain.OutcomeEmpty:
			logger.Debug("gateway had no verification result",
				zap.Int("attempt", attempt),
			)
		}

		if attempt == w.tries {
			break
		}

		job.State = domain.JobRetrying
		timer := time.NewTimer(w.backoff.NextDelay(attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			w.finish(job, domain.JobCancelled, logger)
			return
		case <-timer.C:
		}
	}

	w.finish(job, domain.JobGaveUp, logger)
	w.events.Emit(ctx, domain.EventVerificationGaveUp, map[string]interface{}{
		"reference": job.Reference,
		"attempts":  job.Attempts,
		"webhook":   job.Webhook,
	})
}

func (w *Worker) finish(job *domain.VerificationJob, state domain.JobState, logger *zap.Logger) {
	job.State = state
	verificationJobs.WithLabelValues(state.String()).Inc()
	verificationAttempts.WithLabelValues(state.String()).Observe(float64(job.Attempts))
	logger.Info("verification job finished",
		zap.String("state", state.String()),
		zap.Int("attempts", job.Attempts),
	)
}

// tenantContext extracts merchant resolution hints from the webhook payload.
// Only scalar string fields can carry a tenant key.
func tenantContext(job *domain.VerificationJob) map[string]string {
	if len(job.Webhook) == 0 {
		return nil
	}
	reqCtx := make(map[string]string)
	for key, value := range job.Webhook {
		if s, ok := value.(string); ok {
			reqCtx[key] = s
		}
	}
	return reqCtx
}
