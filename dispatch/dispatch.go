package dispatch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/candree7-rgb/Systemic.Systems/destinations"
	"github.com/candree7-rgb/Systemic.Systems/models"
)

const (
	maxAttempts = 3

	// backoffBase grows linearly: 1.5s after the first failed attempt,
	// 3s after the second.
	backoffBase = 1500 * time.Millisecond

	// rateLimitRetries caps budget-exempt 429 retries per delivery so a
	// permanently throttling endpoint cannot stall a tick forever.
	rateLimitRetries = 5

	defaultRateLimitDelay = 2 * time.Second
)

// Status is the terminal classification of one delivery.
type Status int

const (
	StatusDelivered Status = iota
	StatusRetried          // succeeded after at least one retry
	StatusFailed
	StatusSuppressed // dry run: payload built and logged, never sent
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusRetried:
		return "retried"
	case StatusFailed:
		return "failed"
	case StatusSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Outcome is the per-destination delivery result. It is observable only via
// logs and return values, never persisted.
type Outcome struct {
	Destination string
	Status      Status
	Attempts    int
	Err         error
}

// Dispatcher delivers a signal to every configured destination in order,
// retrying transient failures per destination and never letting one
// destination's failure block the next.
type Dispatcher struct {
	dests      []destinations.Destination
	httpClient *http.Client
	dryRun     bool
	logger     *zap.Logger

	// now and sleep are swapped out in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(dests []destinations.Destination, dryRun bool, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		dests:      dests,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		dryRun:     dryRun,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// DeliverAll attempts every destination sequentially and returns one outcome
// per destination.
func (d *Dispatcher) DeliverAll(ctx context.Context, sig models.Signal) []Outcome {
	outcomes := make([]Outcome, 0, len(d.dests))
	for _, dest := range d.dests {
		out := d.Deliver(ctx, dest, sig)
		if out.Err != nil {
			d.logger.Error("delivery failed",
				zap.String("destination", out.Destination),
				zap.Int("attempts", out.Attempts),
				zap.Error(out.Err),
			)
		} else {
			d.logger.Info("delivery done",
				zap.String("destination", out.Destination),
				zap.String("status", out.Status.String()),
				zap.Int("attempts", out.Attempts),
			)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Deliver posts the signal to a single destination with bounded retry.
// Requests are rebuilt on every attempt so signatures and timestamps stay
// fresh.
func (d *Dispatcher) Deliver(ctx context.Context, dest destinations.Destination, sig models.Signal) Outcome {
	out := Outcome{Destination: dest.Name()}

	rateLimits := 0
	for out.Attempts < maxAttempts {
		req, err := dest.NewRequest(sig, d.now())
		if err != nil {
			out.Status = StatusFailed
			out.Err = errors.Wrap(err, "build request")
			return out
		}

		if d.dryRun {
			d.logger.Info("dry run, payload suppressed",
				zap.String("destination", dest.Name()),
				zap.String("url", req.URL),
				zap.ByteString("payload", req.Body),
			)
			out.Status = StatusSuppressed
			return out
		}

		out.Attempts++
		err = d.post(ctx, dest, req)
		if err == nil {
			out.Status = StatusDelivered
			if out.Attempts > 1 {
				out.Status = StatusRetried
			}
			return out
		}

		var rl *destinations.RateLimited
		if errors.As(err, &rl) {
			// Advised delay, outside the attempt budget.
			out.Attempts--
			rateLimits++
			if rateLimits > rateLimitRetries {
				out.Status = StatusFailed
				out.Err = errors.Wrap(err, "rate limit retries exhausted")
				return out
			}
			delay := rl.RetryAfter
			if delay <= 0 {
				delay = defaultRateLimitDelay
			}
			d.logger.Warn("destination rate limit, backing off",
				zap.String("destination", dest.Name()),
				zap.Duration("retry_after", delay),
			)
			if serr := d.sleep(ctx, delay+250*time.Millisecond); serr != nil {
				out.Status = StatusFailed
				out.Err = serr
				return out
			}
			continue
		}

		var tr *destinations.Transient
		if errors.As(err, &tr) {
			if out.Attempts >= maxAttempts {
				out.Status = StatusFailed
				out.Err = err
				return out
			}
			delay := backoffBase * time.Duration(out.Attempts)
			d.logger.Warn("transient delivery failure, retrying",
				zap.String("destination", dest.Name()),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			if serr := d.sleep(ctx, delay); serr != nil {
				out.Status = StatusFailed
				out.Err = serr
				return out
			}
			continue
		}

		// Terminal rejection.
		out.Status = StatusFailed
		out.Err = err
		return out
	}

	out.Status = StatusFailed
	out.Err = errors.New("delivery attempts exhausted")
	return out
}

func (d *Dispatcher) post(ctx context.Context, dest destinations.Destination, req *destinations.Request) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return errors.Wrap(err, "build http request")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return &destinations.Transient{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &destinations.Transient{Err: err}
	}

	return dest.Interpret(resp.StatusCode, resp.Header, body)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
