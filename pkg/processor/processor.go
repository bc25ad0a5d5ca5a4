// Package processor implements the periodic queue sweep: claim a batch of
// pending entries, format each one, submit it to the vendor, and record the
// outcome on the entry. One entry's failure never aborts the batch.
package processor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/guido-cesarano/modrelay/pkg/checkstep"
	"github.com/guido-cesarano/modrelay/pkg/config"
	"github.com/guido-cesarano/modrelay/pkg/content"
	"github.com/guido-cesarano/modrelay/pkg/queue"
)

// submitRateKey is the shared token bucket for outbound vendor calls.
const submitRateKey = "ratelimit:submit"

// Prometheus metrics for sweep monitoring.
var (
	// entriesProcessed counts entry outcomes per sweep.
	// Outcomes: completed, retry, failed, rejected, deferred.
	entriesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modrelay_entries_processed_total",
		Help: "The total number of processed queue entries",
	}, []string{"outcome", "content_type"})

	// sweepDuration tracks full-sweep latency.
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "modrelay_sweep_duration_seconds",
		Help:    "Duration of queue sweeps",
		Buckets: prometheus.DefBuckets,
	})

	// queueDepth tracks entries per queue status, updated by the collector.
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "modrelay_queue_depth",
		Help: "Number of entries in each queue status",
	}, []string{"status"})
)

// Submitter is the slice of the vendor client the processor needs.
type Submitter interface {
	SubmitContent(ctx context.Context, doc *content.Document) (*checkstep.SubmissionResult, error)
}

// Processor drains pending queue entries on a fixed schedule.
type Processor struct {
	cfg       *config.Config
	q         *queue.Client
	formatter content.Formatter
	submitter Submitter
	log       zerolog.Logger

	cron    *cron.Cron
	running atomic.Bool
}

// New wires a processor. It does not start sweeping until Start is called.
func New(cfg *config.Config, q *queue.Client, formatter content.Formatter, submitter Submitter, log zerolog.Logger) *Processor {
	return &Processor{
		cfg:       cfg,
		q:         q,
		formatter: formatter,
		submitter: submitter,
		log:       log,
		cron:      cron.New(),
	}
}

// Start schedules sweeps per the configured cron spec and starts the
// queue-depth metrics collector.
func (p *Processor) Start(ctx context.Context) error {
	if _, err := p.cron.AddFunc(p.cfg.SweepSpec, func() {
		if err := p.Sweep(ctx); err != nil {
			p.log.Error().Err(err).Msg("sweep failed")
		}
	}); err != nil {
		return err
	}
	p.cron.Start()
	go p.collectDepths(ctx)
	return nil
}

// Stop halts the sweep schedule. A sweep already in flight finishes.
func (p *Processor) Stop() {
	p.cron.Stop()
}

// Sweep runs one pass: reclaim stale claims, claim a batch, process each
// entry independently. Single-flight: if a previous sweep is still running
// the call returns immediately, and the atomic claim prevents duplicate
// submission even across processes.
func (p *Processor) Sweep(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		p.log.Debug().Msg("sweep already in flight, skipping")
		return nil
	}
	defer p.running.Store(false)

	start := time.Now()
	defer func() {
		sweepDuration.Observe(time.Since(start).Seconds())
	}()

	reclaimed, err := p.q.ReclaimStale(ctx, p.cfg.StaleClaimTimeout)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		p.log.Warn().Int64("count", reclaimed).Msg("reclaimed stale processing entries")
	}

	entries, err := p.q.ClaimBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	p.log.Info().Int("claimed", len(entries)).Msg("sweep started")
	for _, e := range entries {
		p.process(ctx, e)
	}
	return nil
}

// process handles a single claimed entry. Failures are recorded on the entry
// and never propagate out of the sweep.
func (p *Processor) process(ctx context.Context, e *queue.Entry) {
	ctype := string(e.ContentType)

	allowed, err := p.q.Allow(ctx, submitRateKey, p.cfg.SubmitRate, p.cfg.SubmitBurst)
	if err != nil {
		p.log.Error().Err(err).Int64("entry", e.ID).Msg("rate limit check failed")
		// Fail open: a broken limiter must not strand claimed entries.
	} else if !allowed {
		// Deferral is not a failure; the entry goes back to pending with its
		// retry budget intact.
		if err := p.q.Release(ctx, e.ID); err != nil {
			p.log.Error().Err(err).Int64("entry", e.ID).Msg("release failed")
		}
		entriesProcessed.WithLabelValues("deferred", ctype).Inc()
		return
	}

	doc, err := p.formatter.Format(ctx, e.Ref())
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			p.log.Info().Int64("entry", e.ID).Str("ref", e.Ref().String()).Msg("content gone before submission")
		} else {
			p.log.Error().Err(err).Int64("entry", e.ID).Msg("format failed")
		}
		p.recordFailure(ctx, e, err.Error())
		return
	}

	if _, err := p.submitter.SubmitContent(ctx, doc); err != nil {
		if !checkstep.Retryable(err) {
			if ferr := p.q.MarkFailed(ctx, e.ID, err.Error()); ferr != nil {
				p.log.Error().Err(ferr).Int64("entry", e.ID).Msg("mark failed errored")
			}
			entriesProcessed.WithLabelValues("rejected", ctype).Inc()
			p.log.Warn().Err(err).Int64("entry", e.ID).Msg("submission rejected, not retryable")
			return
		}
		p.log.Error().Err(err).Int64("entry", e.ID).Int("retries", e.Retries).Msg("submission failed")
		p.recordFailure(ctx, e, err.Error())
		return
	}

	if err := p.q.MarkCompleted(ctx, e.ID); err != nil {
		p.log.Error().Err(err).Int64("entry", e.ID).Msg("mark completed errored")
		return
	}
	entriesProcessed.WithLabelValues("completed", ctype).Inc()
}

func (p *Processor) recordFailure(ctx context.Context, e *queue.Entry, msg string) {
	terminal, err := p.q.MarkFailedAttempt(ctx, e.ID, msg)
	if err != nil {
		p.log.Error().Err(err).Int64("entry", e.ID).Msg("mark failed attempt errored")
		return
	}
	if terminal {
		entriesProcessed.WithLabelValues("failed", string(e.ContentType)).Inc()
		p.log.Warn().Int64("entry", e.ID).Msg("entry exhausted retry budget")
	} else {
		entriesProcessed.WithLabelValues("retry", string(e.ContentType)).Inc()
	}
}

// collectDepths periodically publishes queue depths as gauges.
func (p *Processor) collectDepths(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for status, depth := range p.q.Depths(ctx) {
				queueDepth.WithLabelValues(status).Set(float64(depth))
			}
		}
	}
}
