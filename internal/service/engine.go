// Package service implements the wagering protocol: configuration, market
// lifecycle, bets, delegation hand-off and settlement. Every mutation runs
// under per-record locks inside one store transaction.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/wagerengine/internal/crypto"
	"github.com/alanyoungcy/wagerengine/internal/delegation"
	"github.com/alanyoungcy/wagerengine/internal/domain"
	"github.com/alanyoungcy/wagerengine/internal/settlement"
)

const lockBackoff = 10 * time.Millisecond

// Options are the protocol tunables.
type Options struct {
	AdminTimelock    time.Duration
	RevealWindow     time.Duration // zero disables the reveal deadline
	BatchGrace       time.Duration
	EmergencyTimeout time.Duration
	MaxTimeBonusBps  uint64
	ConfirmSecret    []byte
	LockTTL          time.Duration
	LockWait         time.Duration
	CommitBackoff    time.Duration
	CommitRetries    uint64
}

// DefaultOptions mirrors the protocol defaults.
func DefaultOptions() Options {
	return Options{
		AdminTimelock:    48 * time.Hour,
		BatchGrace:       24 * time.Hour,
		EmergencyTimeout: 7 * 24 * time.Hour,
		MaxTimeBonusBps:  2_000,
		LockTTL:          10 * time.Second,
		LockWait:         2 * time.Second,
		CommitBackoff:    250 * time.Millisecond,
		CommitRetries:    8,
	}
}

// Deps are the collaborators of the Engine. Bus and Cache are optional.
type Deps struct {
	Store   domain.Store
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Cache   domain.MarketCache
	Enclave delegation.Enclave
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithWeightPolicy replaces the parimutuel weight policy.
func WithWeightPolicy(p settlement.WeightPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// Engine is the protocol state machine.
type Engine struct {
	store   domain.Store
	locks   domain.LockManager
	bus     domain.SignalBus
	cache   domain.MarketCache
	coord   *delegation.Coordinator
	confirm *crypto.Confirmer
	policy  settlement.WeightPolicy
	opts    Options
	now     func() time.Time
	logger  *slog.Logger
}

// NewEngine wires an Engine. Run must be started so undelegations complete.
func NewEngine(deps Deps, opts Options, logger *slog.Logger, options ...Option) *Engine {
	e := &Engine{
		store:   deps.Store,
		locks:   deps.Locks,
		bus:     deps.Bus,
		cache:   deps.Cache,
		confirm: crypto.NewConfirmer(opts.ConfirmSecret),
		policy:  settlement.DefaultWeightPolicy{MaxTimeBonusBps: opts.MaxTimeBonusBps},
		opts:    opts,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "engine")),
	}
	for _, o := range options {
		o(e)
	}
	e.coord = delegation.NewCoordinator(deps.Enclave, e, logger,
		delegation.WithCommitRetry(opts.CommitBackoff, opts.CommitRetries))
	return e
}

// Run applies delegation commits until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.coord.Run(ctx)
}

func (e *Engine) unix() int64 { return e.now().Unix() }

func marketKey(id string) string { return "market:" + id }
func betKey(id string) string { return "bet:" + id }

const configKey = "protocol:config"

// lock acquires keys in order, retrying held keys until LockWait elapses.
func (e *Engine) lock(ctx context.Context, keys ...string) (func(), error) {
	held := make([]func(), 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, k := range keys {
		unlock, err := e.acquire(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, unlock)
	}
	return release, nil
}

func (e *Engine) acquire(ctx context.Context, key string) (func(), error) {
	deadline := time.Now().Add(e.opts.LockWait)
	for {
		unlock, err := e.locks.Acquire(ctx, key, e.opts.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || time.Now().After(deadline) {
			return nil, fmt.Errorf("engine: lock %s: %w", key, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockBackoff):
		}
	}
}

// publish fans an event out to subscribers and the durable stream. Failures
// are logged; the state change has already committed.
func (e *Engine) publish(ctx context.Context, ev domain.Event) {
	if e.bus == nil {
		return
	}
	ev.ID = uuid.New().String()
	ev.At = e.now().UTC()

	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.ErrorContext(ctx, "engine: marshal event", slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Publish(ctx, ev.Channel(), payload); err != nil {
		e.logger.WarnContext(ctx, "engine: publish event failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
	if err := e.bus.StreamAppend(ctx, domain.EventStream, payload); err != nil {
		e.logger.WarnContext(ctx, "engine: stream append failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) audit(ctx context.Context, event string, detail map[string]any) {
	if err := e.store.Audit().Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "engine: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) invalidate(ctx context.Context, marketID string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, marketID); err != nil {
		e.logger.WarnContext(ctx, "engine: cache invalidate failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

func requireAdmin(cfg domain.GlobalConfig, caller domain.Identity) error {
	if cfg.Admin != caller {
		return domain.ErrAdminMismatch
	}
	return nil
}
