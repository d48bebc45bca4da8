package delegation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

type tracked struct {
	status Status
	done   chan struct{}
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithCommitRetry sets how often a commit the ledger refused for a transient
// reason is tried again, starting base apart and backing off to ten times
// base.
func WithCommitRetry(base time.Duration, attempts uint64) Option {
	return func(c *Coordinator) {
		c.retryBase = base
		c.retryAttempts = attempts
	}
}

// Coordinator is the public-side actor. It forwards private operations to the
// enclave and applies returned commits to the ledger.
type Coordinator struct {
	enclave Enclave
	ledger  Ledger
	logger  *slog.Logger

	retryBase     time.Duration
	retryAttempts uint64

	mu      sync.Mutex
	pending map[string]*tracked
	now     func() time.Time
}

// NewCoordinator wires the enclave to the ledger. Run must be started for
// undelegations to complete.
func NewCoordinator(enclave Enclave, ledger Ledger, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		enclave:       enclave,
		ledger:        ledger,
		logger:        logger.With(slog.String("component", "delegation")),
		retryBase:     250 * time.Millisecond,
		retryAttempts: 8,
		pending:       make(map[string]*tracked),
		now:           time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run applies commits from the enclave until ctx is cancelled. Each commit is
// applied on its own goroutine so one retrying bet does not hold up others.
func (c *Coordinator) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cm, ok := <-c.enclave.Commits():
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.apply(ctx, cm)
			}()
		}
	}
}

// retryable reports whether the ledger may accept the same commit later.
func retryable(err error) bool {
	return !errors.Is(err, ErrStaleCommit) &&
		!errors.Is(err, domain.ErrNotFound) &&
		!errors.Is(err, context.Canceled)
}

func (c *Coordinator) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBase
	b.MaxInterval = 10 * c.retryBase
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.retryAttempts), ctx)
}

// apply lands cm on the ledger. On success the enclave drops its copy; on a
// final failure the copy is thawed so the owner can undelegate again.
func (c *Coordinator) apply(ctx context.Context, cm Commit) {
	id := cm.Bet.ID
	err := backoff.RetryNotify(func() error {
		err := c.ledger.ApplyCommit(ctx, cm)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, c.backOff(ctx), func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "apply commit retry",
			slog.String("bet_id", id),
			slog.String("error", err.Error()),
			slog.Duration("wait", wait),
		)
	})

	switch {
	case err == nil:
		if cerr := c.enclave.Confirm(ctx, id, cm.Bet.Version); cerr != nil {
			c.logger.WarnContext(ctx, "confirm commit failed",
				slog.String("bet_id", id),
				slog.String("error", cerr.Error()),
			)
		}
	case ctx.Err() != nil:
		// Shutting down. The sealed copy stays put; Reclaim recovers the bet
		// from the public record on the next start.
	default:
		if aerr := c.enclave.Abort(ctx, id); aerr != nil {
			c.logger.ErrorContext(ctx, "abort commit failed",
				slog.String("bet_id", id),
				slog.String("error", aerr.Error()),
			)
		}
	}

	c.settle(cm, err)

	if err != nil {
		c.logger.ErrorContext(ctx, "apply commit failed",
			slog.String("bet_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	c.logger.InfoContext(ctx, "bet undelegated",
		slog.String("bet_id", id),
		slog.Uint64("version", cm.Bet.Version),
	)
}

func (c *Coordinator) settle(cm Commit, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.pending[cm.Bet.ID]
	if !ok {
		t = &tracked{status: Status{BetID: cm.Bet.ID}, done: make(chan struct{})}
		c.pending[cm.Bet.ID] = t
	}
	t.status.Version = cm.Bet.Version
	t.status.SettledAt = c.now().UTC()
	if err != nil {
		t.status.State = StateFailed
		t.status.Error = err.Error()
	} else {
		t.status.State = StateCommitted
		t.status.Error = ""
	}
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

// Delegate ships a snapshot whose public record already names the
// confidential holder.
func (c *Coordinator) Delegate(ctx context.Context, bet domain.UserBet) error {
	if c.Pending(bet.ID) {
		return domain.ErrUndelegationPending
	}
	if err := c.enclave.Accept(ctx, bet); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.pending, bet.ID)
	c.mu.Unlock()
	return nil
}

// Reclaim re-seeds the enclave from the public record of a bet the public
// side still marks as delegated but the enclave no longer holds, as after a
// restart. Private changes the lost copy carried are gone; the owner reveals
// again.
func (c *Coordinator) Reclaim(ctx context.Context, bet domain.UserBet) error {
	if !bet.Delegated() {
		return domain.ErrNotDelegated
	}
	if err := c.Delegate(ctx, bet); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "custody reclaimed",
		slog.String("bet_id", bet.ID),
		slog.Uint64("version", bet.Version),
	)
	return nil
}

// Reveal forwards a reveal to the enclave.
func (c *Coordinator) Reveal(ctx context.Context, req RevealRequest) (domain.UserBet, error) {
	return c.enclave.Reveal(ctx, req)
}

// Update forwards a prediction update to the enclave.
func (c *Coordinator) Update(ctx context.Context, req UpdateRequest) (domain.UserBet, error) {
	return c.enclave.Update(ctx, req)
}

// Undelegate asks the enclave to release the bet and returns without waiting
// for the commit. Use Status or Await to observe completion.
func (c *Coordinator) Undelegate(ctx context.Context, betID string, caller domain.Identity) error {
	c.mu.Lock()
	if t, ok := c.pending[betID]; ok && t.status.State == StatePending {
		c.mu.Unlock()
		return domain.ErrUndelegationPending
	}
	t := &tracked{
		status: Status{BetID: betID, State: StatePending, RequestedAt: c.now().UTC()},
		done:   make(chan struct{}),
	}
	c.pending[betID] = t
	c.mu.Unlock()

	if err := c.enclave.Release(ctx, betID, caller); err != nil {
		c.mu.Lock()
		if c.pending[betID] == t {
			delete(c.pending, betID)
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Pending reports whether an undelegation of betID awaits its commit.
func (c *Coordinator) Pending(betID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.pending[betID]
	return ok && t.status.State == StatePending
}

// Status returns the latest undelegation status of betID.
func (c *Coordinator) Status(betID string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.pending[betID]; ok {
		return t.status
	}
	return Status{BetID: betID, State: StateNone}
}

// Await blocks until the pending undelegation of betID settles or ctx ends.
func (c *Coordinator) Await(ctx context.Context, betID string) (Status, error) {
	c.mu.Lock()
	t, ok := c.pending[betID]
	c.mu.Unlock()
	if !ok {
		return Status{BetID: betID, State: StateNone}, nil
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		return c.Status(betID), ctx.Err()
	}
	return c.Status(betID), nil
}
