// Package delegation hands a bet's private state to a confidential execution
// environment and brings it back. The public Coordinator and the Enclave are
// separate actors that only exchange messages.
package delegation

import (
	"context"
	"errors"
	"time"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

var (
	// ErrStaleCommit is returned when a commit is older than the public record.
	ErrStaleCommit = errors.New("delegation: stale commit")
	// ErrEnclaveStopped is returned once the enclave loop has exited.
	ErrEnclaveStopped = errors.New("delegation: enclave stopped")
)

// RevealRequest opens a delegated bet's commitment inside the enclave.
// Deadline is the last unix second a reveal is accepted; zero disables it.
type RevealRequest struct {
	BetID    string
	Caller   domain.Identity
	Low      int64
	High     int64
	Target   int64
	Salt     []byte
	Now      int64
	Deadline int64
}

// UpdateRequest replaces a delegated bet's prediction. Market is the public
// record the bet belongs to.
type UpdateRequest struct {
	BetID  string
	Caller domain.Identity
	Low    int64
	High   int64
	Target int64
	Salt   []byte
	Now    int64
	Market domain.Market
}

// Commit carries an enclave copy back to the public ledger.
type Commit struct {
	Bet      domain.UserBet
	SealedAt time.Time
}

// Enclave is the confidential side. Accept takes custody of a snapshot,
// Reveal and Update mutate only the enclave copy, and Release freezes the
// copy and later emits it on Commits. The frozen copy is kept until Confirm
// drops it once the ledger holds the commit, or Abort thaws it so the owner
// can try again.
type Enclave interface {
	Accept(ctx context.Context, bet domain.UserBet) error
	Reveal(ctx context.Context, req RevealRequest) (domain.UserBet, error)
	Update(ctx context.Context, req UpdateRequest) (domain.UserBet, error)
	Release(ctx context.Context, betID string, caller domain.Identity) error
	Confirm(ctx context.Context, betID string, version uint64) error
	Abort(ctx context.Context, betID string) error
	Commits() <-chan Commit
}

// Ledger is the public side that accepts commits.
type Ledger interface {
	ApplyCommit(ctx context.Context, c Commit) error
}

// State is the progress of an undelegation.
type State string

const (
	StateNone      State = "none"
	StatePending   State = "pending"
	StateCommitted State = "committed"
	StateFailed    State = "failed"
)

// Status describes the latest undelegation of a bet.
type Status struct {
	BetID       string    `json:"bet_id"`
	State       State     `json:"state"`
	Version     uint64    `json:"version,omitempty"`
	Error       string    `json:"error,omitempty"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
	SettledAt   time.Time `json:"settled_at,omitempty"`
}
