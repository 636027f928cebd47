package poller

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/candree7-rgb/Systemic.Systems/config"
	"github.com/candree7-rgb/Systemic.Systems/discord"
	"github.com/candree7-rgb/Systemic.Systems/dispatch"
	"github.com/candree7-rgb/Systemic.Systems/models"
	"github.com/candree7-rgb/Systemic.Systems/signal"
	"github.com/candree7-rgb/Systemic.Systems/state"
)

// Fetcher pages new messages out of the watched channel.
type Fetcher interface {
	FetchAfter(ctx context.Context, after models.MessageID, limit int) ([]discord.Message, error)
	LatestMessageID(ctx context.Context) (models.MessageID, error)
}

// Deliverer fans a signal out to every configured destination.
type Deliverer interface {
	DeliverAll(ctx context.Context, sig models.Signal) []dispatch.Outcome
}

// CursorStore persists poll progress between ticks and restarts.
type CursorStore interface {
	Load() state.Cursor
	Save(state.Cursor) error
}

// loopState is the poll loop's explicit state machine.
type loopState int

const (
	stateIdle loopState = iota
	stateFetching
	stateProcessing
	statePersisting
	stateSleeping
	stateRecover
)

// Poller drives the whole pipeline on a fixed, jittered cadence: fetch new
// messages, extract signals, dispatch, persist the cursor. Fully sequential;
// cancellation is observed only at the sleeping boundary so an in-flight
// tick always runs to completion.
type Poller struct {
	cfg        config.Poll
	fetchLimit int
	fetcher    Fetcher
	deliverer  Deliverer
	store      CursorStore
	logger     *zap.Logger

	cursor state.Cursor

	// now, sleep and jitter are swapped out in tests.
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

func New(cfg config.Poll, fetchLimit int, fetcher Fetcher, deliverer Deliverer, store CursorStore, logger *zap.Logger) *Poller {
	return &Poller{
		cfg:        cfg,
		fetchLimit: fetchLimit,
		fetcher:    fetcher,
		deliverer:  deliverer,
		store:      store,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepCtx,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// Run loads the cursor, seeds it on first start and drives the state machine
// until ctx is cancelled. Per-tick errors never terminate the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.cursor = p.store.Load()
	p.seed(ctx)

	p.logger.Info("watching channel",
		zap.String("last_id", string(p.cursor.LastID)),
		zap.Duration("period", p.cfg.Base()),
		zap.Duration("cooldown", p.cfg.Cooldown()),
	)

	var (
		st        = stateIdle
		msgs      []discord.Message
		processed bool
	)
	for {
		switch st {
		case stateIdle:
			st = stateFetching

		case stateFetching:
			var err error
			msgs, err = p.fetcher.FetchAfter(ctx, p.cursor.LastID, p.fetchLimit)
			if err != nil {
				p.logger.Error("fetch failed", zap.Error(err))
				st = stateRecover
				continue
			}
			st = stateProcessing

		case stateProcessing:
			processed = p.process(ctx, msgs)
			st = statePersisting

		case statePersisting:
			if processed {
				if err := p.store.Save(p.cursor); err != nil {
					p.logger.Error("persist failed", zap.Error(err))
					st = stateRecover
					continue
				}
			}
			st = stateSleeping

		case stateSleeping:
			if err := p.sleepUntilNextTick(ctx); err != nil {
				p.logger.Info("shutting down")
				return nil
			}
			st = stateIdle

		case stateRecover:
			_ = p.sleep(ctx, p.cfg.Recovery())
			st = stateSleeping
		}
	}
}

// Tick runs one fetch/process/persist cycle. Exposed for tests and one-shot
// runs; Run is the production driver.
func (p *Poller) Tick(ctx context.Context) error {
	msgs, err := p.fetcher.FetchAfter(ctx, p.cursor.LastID, p.fetchLimit)
	if err != nil {
		return err
	}
	if p.process(ctx, msgs) {
		return p.store.Save(p.cursor)
	}
	return nil
}

// seed initializes last_id to the newest existing message on first run so
// history predating the first start is never acted on.
func (p *Poller) seed(ctx context.Context) {
	if !p.cursor.LastID.IsZero() {
		return
	}
	latest, err := p.fetcher.LatestMessageID(ctx)
	if err != nil {
		p.logger.Warn("could not seed initial cursor", zap.Error(err))
		return
	}
	if latest.IsZero() {
		return
	}
	p.cursor.Advance(latest)
	if err := p.store.Save(p.cursor); err != nil {
		p.logger.Warn("could not persist seeded cursor", zap.Error(err))
		return
	}
	p.logger.Info("seeded cursor at newest message", zap.String("last_id", string(latest)))
}

// process handles one ascending batch. Every message advances the cursor,
// whether or not it carried a signal; the return reports whether anything
// changed and needs persisting.
func (p *Poller) process(ctx context.Context, msgs []discord.Message) bool {
	if len(msgs) == 0 {
		p.logger.Debug("no new messages")
		return false
	}

	for _, m := range msgs {
		p.cursor.Advance(m.ID)

		if p.inCooldown() {
			p.logger.Info("cooldown active, dropping message",
				zap.String("id", string(m.ID)),
			)
			continue
		}

		text := signal.MessageText(m)
		if text == "" {
			continue
		}

		sig, ok := signal.Parse(text)
		if !ok {
			// Expected for anything that is not a trade alert.
			p.logger.Debug("no signal in message", zap.String("id", string(m.ID)))
			continue
		}
		if sig.Ambiguous {
			p.logger.Warn("conflicting header patterns in message, using highest priority match",
				zap.String("id", string(m.ID)),
				zap.String("base", sig.Base),
				zap.String("side", string(sig.Side)),
			)
		}

		p.logger.Info("signal extracted",
			zap.String("id", string(m.ID)),
			zap.String("base", sig.Base),
			zap.String("side", string(sig.Side)),
			zap.Float64("entry", sig.Entry),
		)

		p.deliverer.DeliverAll(ctx, sig)
		p.cursor.MarkDispatch(p.now())
	}
	return true
}

// inCooldown reports whether dispatch is suppressed by the minimum spacing
// between trades. The cursor still advances for suppressed messages.
func (p *Poller) inCooldown() bool {
	cd := p.cfg.Cooldown()
	if cd <= 0 {
		return false
	}
	return p.cursor.SinceDispatch(p.now()) < cd
}

// sleepUntilNextTick aligns the next tick to a wall-clock grid of the base
// period plus offset, with random jitter to desynchronize from other
// consumers of the same rate-limited endpoint.
func (p *Poller) sleepUntilNextTick(ctx context.Context) error {
	now := float64(p.now().UnixNano()) / float64(time.Second)
	period := p.cfg.Base().Seconds()
	offset := p.cfg.Offset().Seconds()

	periodStart := math.Floor(now/period) * period
	next := periodStart + period + offset
	if now < periodStart+offset {
		next = periodStart + offset
	}

	wait := time.Duration((next - now) * float64(time.Second))
	if wait < 0 {
		wait = 0
	}
	wait += p.jitter(time.Duration(p.cfg.JitterMax) * time.Second)

	return p.sleep(ctx, wait)
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
