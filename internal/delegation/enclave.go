package delegation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wagerengine/internal/commitment"
	"github.com/alanyoungcy/wagerengine/internal/domain"
	"github.com/alanyoungcy/wagerengine/internal/settlement"
)

type opKind int

const (
	opAccept opKind = iota
	opReveal
	opUpdate
	opRelease
	opSeal
	opConfirm
	opAbort
)

type envelope struct {
	op     opKind
	bet    domain.UserBet
	reveal RevealRequest
	update UpdateRequest
	betID   string
	caller  domain.Identity
	version uint64
	reply   chan result
}

type result struct {
	bet domain.UserBet
	err error
}

// custody is the enclave's copy of one bet. A sealed copy has been sent as a
// commit and waits for Confirm or Abort.
type custody struct {
	bet    domain.UserBet
	frozen bool
	sealed bool
}

// LocalEnclave runs the confidential domain in-process. Its bet copies are
// owned by the Run goroutine and never shared with callers.
type LocalEnclave struct {
	reqs    chan envelope
	commits chan Commit
	stopped chan struct{}
	latency time.Duration
	logger  *slog.Logger
}

// NewLocalEnclave returns an enclave that commits released bets after latency.
func NewLocalEnclave(latency time.Duration, logger *slog.Logger) *LocalEnclave {
	return &LocalEnclave{
		reqs:    make(chan envelope),
		commits: make(chan Commit, 64),
		stopped: make(chan struct{}),
		latency: latency,
		logger:  logger.With(slog.String("component", "enclave")),
	}
}

// Commits implements Enclave.
func (e *LocalEnclave) Commits() <-chan Commit { return e.commits }

// Run processes requests until ctx is cancelled.
func (e *LocalEnclave) Run(ctx context.Context) error {
	defer close(e.stopped)

	held := make(map[string]*custody)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-e.reqs:
			r := e.handle(ctx, held, env)
			if env.reply != nil {
				env.reply <- r
			}
		}
	}
}

func (e *LocalEnclave) handle(ctx context.Context, held map[string]*custody, env envelope) result {
	switch env.op {
	case opAccept:
		// The public record is authoritative when it hands over a snapshot,
		// so a copy left behind by an interrupted hand-off is replaced. A copy
		// newer than the snapshot is not.
		if c, ok := held[env.bet.ID]; ok {
			if env.bet.Version < c.bet.Version {
				return result{err: domain.ErrAlreadyDelegated}
			}
			if env.bet.Version == c.bet.Version && c.frozen {
				return result{err: domain.ErrUndelegationPending}
			}
		}
		held[env.bet.ID] = &custody{bet: env.bet.Clone()}
		return result{}

	case opReveal:
		c, err := writable(held, env.reveal.BetID, env.reveal.Caller)
		if err != nil {
			return result{err: err}
		}
		b, err := reveal(c.bet, env.reveal)
		if err != nil {
			return result{err: err}
		}
		c.bet = b
		return result{bet: b.Clone()}

	case opUpdate:
		c, err := writable(held, env.update.BetID, env.update.Caller)
		if err != nil {
			return result{err: err}
		}
		b, err := update(c.bet, env.update)
		if err != nil {
			return result{err: err}
		}
		c.bet = b
		return result{bet: b.Clone()}

	case opRelease:
		c, err := writable(held, env.betID, env.caller)
		if err != nil {
			return result{err: err}
		}
		c.frozen = true
		e.scheduleSeal(ctx, env.betID)
		return result{}

	case opSeal:
		c, ok := held[env.betID]
		if !ok || !c.frozen || c.sealed {
			return result{}
		}
		c.sealed = true
		out := Commit{Bet: c.bet.Clone(), SealedAt: time.Now().UTC()}
		go func() {
			select {
			case e.commits <- out:
			case <-ctx.Done():
			}
		}()
		e.logger.DebugContext(ctx, "bet sealed", slog.String("bet_id", env.betID))
		return result{}

	case opConfirm:
		if c, ok := held[env.betID]; ok && c.sealed && c.bet.Version == env.version {
			delete(held, env.betID)
		}
		return result{}

	case opAbort:
		c, ok := held[env.betID]
		if !ok || !c.sealed {
			return result{err: domain.ErrNotDelegated}
		}
		c.frozen, c.sealed = false, false
		e.logger.InfoContext(ctx, "bet thawed", slog.String("bet_id", env.betID))
		return result{}
	}
	return result{err: fmt.Errorf("delegation: unknown op %d", env.op)}
}

func (e *LocalEnclave) scheduleSeal(ctx context.Context, betID string) {
	time.AfterFunc(e.latency, func() {
		select {
		case e.reqs <- envelope{op: opSeal, betID: betID}:
		case <-ctx.Done():
		case <-e.stopped:
		}
	})
}

func writable(held map[string]*custody, betID string, caller domain.Identity) (*custody, error) {
	c, ok := held[betID]
	if !ok {
		return nil, domain.ErrNotDelegated
	}
	if c.bet.Owner != caller {
		return nil, domain.ErrUnauthorized
	}
	if c.frozen {
		return nil, domain.ErrUndelegationPending
	}
	return c, nil
}

func reveal(b domain.UserBet, req RevealRequest) (domain.UserBet, error) {
	if req.Deadline > 0 && req.Now > req.Deadline {
		return b, domain.ErrRevealWindowExpired
	}
	if !commitment.Verify(b.Commitment, req.Low, req.High, req.Target, req.Salt) {
		return b, domain.ErrInvalidReveal
	}
	if b.Revealed {
		return b, nil
	}
	b.Revealed = true
	b.RevealedLow = req.Low
	b.RevealedHigh = req.High
	b.RevealedTarget = req.Target
	b.Salt = append([]byte(nil), req.Salt...)
	b.Version++
	return b, nil
}

func update(b domain.UserBet, req UpdateRequest) (domain.UserBet, error) {
	m := req.Market
	if req.Now >= m.EndTime || m.Resolved {
		return b, domain.ErrBettingClosed
	}
	if m.Mode == domain.ModeHouse {
		decay := settlement.TimeDecayFactor(m.StartTime, m.EndTime, req.Now)
		if decay == 0 {
			return b, domain.ErrBettingClosed
		}
		b.MultiplierBps = settlement.ConvictionPenalty(b.MultiplierBps, decay, m.SlippageParam)
	}

	b.Commitment = commitment.Commit(req.Low, req.High, req.Target, req.Salt)
	b.Revealed = true
	b.RevealedLow = req.Low
	b.RevealedHigh = req.High
	b.RevealedTarget = req.Target
	b.Salt = append([]byte(nil), req.Salt...)
	if m.Kind == domain.MarketKindFixed {
		// Pool bets keep their creation time and update count.
		b.UpdateCount++
		b.CreationTS = req.Now
	}
	b.Version++
	return b, nil
}

func (e *LocalEnclave) call(ctx context.Context, env envelope) (domain.UserBet, error) {
	env.reply = make(chan result, 1)
	select {
	case e.reqs <- env:
	case <-ctx.Done():
		return domain.UserBet{}, ctx.Err()
	case <-e.stopped:
		return domain.UserBet{}, ErrEnclaveStopped
	}
	select {
	case r := <-env.reply:
		return r.bet, r.err
	case <-ctx.Done():
		return domain.UserBet{}, ctx.Err()
	}
}

// Accept implements Enclave.
func (e *LocalEnclave) Accept(ctx context.Context, bet domain.UserBet) error {
	_, err := e.call(ctx, envelope{op: opAccept, bet: bet.Clone()})
	return err
}

// Reveal implements Enclave.
func (e *LocalEnclave) Reveal(ctx context.Context, req RevealRequest) (domain.UserBet, error) {
	req.Salt = append([]byte(nil), req.Salt...)
	return e.call(ctx, envelope{op: opReveal, reveal: req})
}

// Update implements Enclave.
func (e *LocalEnclave) Update(ctx context.Context, req UpdateRequest) (domain.UserBet, error) {
	req.Salt = append([]byte(nil), req.Salt...)
	return e.call(ctx, envelope{op: opUpdate, update: req})
}

// Release implements Enclave.
func (e *LocalEnclave) Release(ctx context.Context, betID string, caller domain.Identity) error {
	_, err := e.call(ctx, envelope{op: opRelease, betID: betID, caller: caller})
	return err
}

// Confirm implements Enclave.
func (e *LocalEnclave) Confirm(ctx context.Context, betID string, version uint64) error {
	_, err := e.call(ctx, envelope{op: opConfirm, betID: betID, version: version})
	return err
}

// Abort implements Enclave.
func (e *LocalEnclave) Abort(ctx context.Context, betID string) error {
	_, err := e.call(ctx, envelope{op: opAbort, betID: betID})
	return err
}

var _ Enclave = (*LocalEnclave)(nil)
