// Package notify delivers run outcome webhooks with buffering and retry.
package notify

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"foldwarden/internal/config"
	"foldwarden/pkg/backoff"
	"foldwarden/pkg/circuitbreaker"
	"foldwarden/pkg/cloudevent"
)

// Hardcoded delivery defaults - these rarely need tuning.
const (
	maxAttempts             = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 3
	deliveryTimeout         = 30 * time.Second
)

// Config holds configuration for the notifier.
type Config struct {
	URL         string
	SigningKey  string        // HMAC key for X-Signature-256, empty = unsigned
	BufferSize  int           // pending events buffer (default: 64)
	Workers     int           // concurrent delivery goroutines (default: 2)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)
	Retry       backoff.Policy
	Cooldown    time.Duration // breaker cooldown and requeue delay
}

// FromAppConfig maps the application's notify section onto a Config.
func FromAppConfig(app config.NotifyConfig) Config {
	return Config{
		URL:         app.URL,
		SigningKey:  app.SigningKey,
		BufferSize:  app.BufferSize,
		Workers:     app.Workers,
		HTTPTimeout: time.Duration(app.TimeoutSeconds) * time.Second,
	}
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultBreakerCooldown
	}
	return c
}

// MetricsRecorder is an optional interface for recording notify metrics.
type MetricsRecorder interface {
	RecordNotifyDelivered(ctx context.Context)
	RecordNotifyFailed(ctx context.Context)
	RecordNotifyDropped(ctx context.Context)
}

// Stats holds notifier statistics.
type Stats struct {
	QueueDepth int    // current queue size
	Queued     int64  // total events queued
	Delivered  int64  // successful deliveries
	Failed     int64  // failed after retries
	Dropped    int64  // dropped due to full buffer or max requeues
	Requeued   int64  // requeued due to open circuit
	Breaker    string // current breaker state
}

type pending struct {
	event    *cloudevent.CloudEvent
	requeues int
}

// Notifier queues run outcomes in a bounded channel and delivers them
// to one webhook URL with a worker pool. A full buffer drops the event
// rather than blocking the run. A nil Notifier is a no-op: New returns
// nil when no URL is configured.
type Notifier struct {
	queue   chan *pending
	sender  *cloudevent.Sender
	breaker *circuitbreaker.Breaker
	config  Config
	logger  *slog.Logger
	metrics MetricsRecorder

	// Internal counters (for Stats())
	queued    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	requeued  atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// New creates a notifier and starts its workers. Returns nil when cfg
// has no URL.
func New(cfg Config, metrics MetricsRecorder, logger *slog.Logger) *Notifier {
	if cfg.URL == "" {
		return nil
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	n := &Notifier{
		queue:  make(chan *pending, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  cfg.Cooldown,
		}),
		config:   cfg,
		logger:   logger.With("component", "notify"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	n.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go n.worker()
	}

	n.logger.Info("Notifier started", "destination", hostOf(cfg.URL), "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return n
}

// RunFinished queues the webhook for a finished run. Never blocks: a
// full buffer drops the event with a metric.
func (n *Notifier) RunFinished(o Outcome) {
	if n == nil || n.closed.Load() {
		return
	}
	n.enqueue(&pending{event: newEvent(o)})
}

func (n *Notifier) enqueue(p *pending) {
	select {
	case n.queue <- p:
		n.queued.Add(1)
	default:
		n.drop(p, "buffer full")
	}
}

func (n *Notifier) drop(p *pending, reason string) {
	n.dropped.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifyDropped(context.Background())
	}
	n.logger.Warn("Notification dropped",
		"reason", reason,
		"type", p.event.Type,
		"subject", p.event.Subject,
	)
}

// Stats returns current notifier statistics.
func (n *Notifier) Stats() Stats {
	if n == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth: len(n.queue),
		Queued:     n.queued.Load(),
		Delivered:  n.delivered.Load(),
		Failed:     n.failed.Load(),
		Dropped:    n.dropped.Load(),
		Requeued:   n.requeued.Load(),
		Breaker:    n.breaker.State().String(),
	}
}

// Close gracefully shuts down, attempting to deliver queued events.
// The context deadline controls how long to wait for the drain.
func (n *Notifier) Close(ctx context.Context) error {
	if n == nil || n.closed.Swap(true) {
		return nil
	}

	n.logger.Info("Notifier shutting down", "queued", len(n.queue))

	// Signal workers to stop
	close(n.shutdown)

	// Wait for workers with timeout
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("Notifier shutdown complete",
			"delivered", n.delivered.Load(),
			"failed", n.failed.Load(),
			"dropped", n.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		n.logger.Warn("Notifier shutdown timed out", "remaining", len(n.queue))
		return ctx.Err()
	}
}

// worker processes events from the queue.
func (n *Notifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.shutdown:
			// Drain remaining events before exiting
			n.drainQueue()
			return
		case p := <-n.queue:
			n.deliver(p)
		}
	}
}

// drainQueue delivers remaining events after the shutdown signal.
func (n *Notifier) drainQueue() {
	for {
		select {
		case p := <-n.queue:
			n.deliver(p)
		default:
			return // queue empty
		}
	}
}

// deliver attempts to deliver an event with retry and circuit breaker.
func (n *Notifier) deliver(p *pending) {
	if !n.breaker.Allow() {
		n.requeue(p)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	if err := n.sendWithRetry(ctx, p.event); err != nil {
		n.breaker.RecordFailure()
		n.failed.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifyFailed(ctx)
		}
		n.logger.Warn("Delivery failed", "type", p.event.Type, "subject", p.event.Subject, "error", err)
		return
	}

	n.breaker.RecordSuccess()
	n.delivered.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifyDelivered(ctx)
	}
}

// requeue puts an event back in the queue after the cooldown so the
// circuit has time to recover.
func (n *Notifier) requeue(p *pending) {
	if p.requeues >= defaultMaxRequeues {
		n.drop(p, "max requeues reached")
		return
	}

	p.requeues++
	n.requeued.Add(1)

	go func() {
		select {
		case <-n.shutdown:
			return
		case <-time.After(n.config.Cooldown):
		}

		select {
		case n.queue <- p:
		case <-n.shutdown:
		default:
			n.drop(p, "buffer full on requeue")
		}
	}()
}

func (n *Notifier) sendWithRetry(ctx context.Context, event *cloudevent.CloudEvent) error {
	opts := cloudevent.SendOptions{SigningKey: n.config.SigningKey}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := backoff.Sleep(ctx, n.config.Retry.Duration(attempt-1)); err != nil {
				return err
			}
		}

		lastErr = n.sender.Send(ctx, n.config.URL, event, opts)
		if lastErr == nil {
			return nil
		}
		if cloudevent.IsClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// hostOf extracts the host from a URL for logging.
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
