package writer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	appconfig "liqrelay/config"
	metrics "liqrelay/internal/metrics"
	"liqrelay/internal/models"
	"liqrelay/logger"
)

type Options struct {
	MaxMessages int
	MaxChars    int
	// MaxAttempts is how many times one payload may be retried after the
	// first send before it is dropped.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func OptionsFromConfig(cfg appconfig.DeliveryConfig) Options {
	return Options{
		MaxMessages: cfg.Batch.MaxMessages,
		MaxChars:    cfg.Batch.MaxChars,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
}

type payload struct {
	id        string
	text      string
	messages  int
	attempts  int
	notBefore time.Time
}

// Queue is a FIFO of outbound messages drained under a RatePolicy. A payload
// the transport throttles goes back to the head of the line and blocks
// everything behind it until its retry time.
type Queue struct {
	mu      sync.Mutex
	pending []models.OutboundMessage
	retry   *payload

	drainMu   sync.Mutex
	transport Transport
	policy    RatePolicy
	opts      Options
	backoff   *backoff.Backoff
	now       func() time.Time
	log       *logger.Log
}

func NewQueue(transport Transport, policy RatePolicy, opts Options) *Queue {
	if opts.MaxMessages < 1 {
		opts.MaxMessages = 1
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	return &Queue{
		transport: transport,
		policy:    policy,
		opts:      opts,
		backoff:   &backoff.Backoff{Min: opts.BaseDelay, Max: opts.MaxDelay, Factor: 2},
		now:       time.Now,
		log:       logger.GetLogger(),
	}
}

// WithClock replaces the time source.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Enqueue appends text. It never blocks on delivery and never fails; blank
// text is ignored.
func (q *Queue) Enqueue(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, models.OutboundMessage{Text: text, EnqueuedAt: q.now()})
	q.mu.Unlock()
	metrics.Count("writer", metrics.MetricMessagesEnqueued, nil)
}

// Len counts queued messages, including those inside a payload awaiting retry.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.retry != nil {
		n += q.retry.messages
	}
	return n
}

// Drain sends as much as the rate policy allows and returns the number of
// payloads accepted by the transport.
func (q *Queue) Drain(ctx context.Context) int {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.policy.BeginCycle(q.now())
	sent := 0
	for ctx.Err() == nil {
		now := q.now()
		if !q.ready(now) {
			break
		}
		if !q.policy.Allow(now) {
			break
		}
		p := q.take()
		res, err := q.transport.Send(ctx, p.text)
		ok, cont := q.settle(ctx, p, res, err)
		if ok {
			sent++
		}
		if !cont {
			break
		}
	}

	metrics.Gauge("writer", metrics.MetricQueueDepth, float64(q.Len()), nil)
	return sent
}

// Run drains every interval until ctx ends, then makes one last attempt.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			q.Drain(final)
			cancel()
			return
		case <-ticker.C:
			q.Drain(ctx)
		}
	}
}

func (q *Queue) ready(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.retry != nil {
		return !now.Before(q.retry.notBefore)
	}
	return len(q.pending) > 0
}

func (q *Queue) take() *payload {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.retry != nil {
		p := q.retry
		q.retry = nil
		return p
	}
	text, n := buildBatch(q.pending, q.opts.MaxMessages, q.opts.MaxChars)
	q.pending = q.pending[n:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	return &payload{id: uuid.New().String(), text: text, messages: n}
}

// settle reports whether the payload was delivered and whether the drain
// cycle may continue.
func (q *Queue) settle(ctx context.Context, p *payload, res SendResult, err error) (bool, bool) {
	log := q.log.WithComponent("delivery_queue").WithFields(logger.Fields{
		"payload_id": p.id,
		"messages":   p.messages,
		"attempts":   p.attempts,
	})

	switch {
	case err != nil && errors.Is(err, ErrDeliveryDisabled):
		log.WithError(err).Error("dropping payload")
		metrics.EmitDropMetric(q.log, metrics.DropMetricUndeliverable, "", "disabled")
		return false, false
	case err != nil && ctx.Err() != nil:
		// shutting down; keep the payload at the head without charging an attempt
		q.putBack(p, q.now())
		return false, false
	case err != nil:
		log.WithError(err).Warn("delivery failed, scheduling retry")
		q.scheduleRetry(p, 0, log)
		return false, false
	case res.OK:
		metrics.Count("writer", metrics.MetricPayloadsSent, nil)
		metrics.EmitMetric(q.log, "writer", metrics.MetricMessagesSent, p.messages, metrics.TypeCounter, nil)
		log.Debug("payload delivered")
		return true, true
	case res.RateLimited:
		metrics.Count("writer", metrics.MetricPayloadsThrottled, nil)
		log.WithField("retry_after", res.RetryAfter.String()).Warn("delivery throttled")
		q.scheduleRetry(p, res.RetryAfter, log)
		return false, false
	default:
		log.WithFields(logger.Fields{
			"error_code":  res.ErrorCode,
			"description": res.Description,
		}).Error("payload rejected, dropping")
		metrics.EmitDropMetric(q.log, metrics.DropMetricPayload, "", "rejected")
		return false, true
	}
}

func (q *Queue) scheduleRetry(p *payload, hint time.Duration, log *logger.Entry) {
	p.attempts++
	if p.attempts > q.opts.MaxAttempts {
		log.WithField("max_attempts", q.opts.MaxAttempts).Error("retry limit reached, dropping payload")
		metrics.EmitDropMetric(q.log, metrics.DropMetricPayload, "", "retry_exhausted")
		return
	}
	delay := hint
	if delay <= 0 {
		delay = q.backoff.ForAttempt(float64(p.attempts - 1))
	}
	q.putBack(p, q.now().Add(delay))
}

func (q *Queue) putBack(p *payload, notBefore time.Time) {
	p.notBefore = notBefore
	q.mu.Lock()
	q.retry = p
	q.mu.Unlock()
}
