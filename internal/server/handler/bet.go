package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerengine/internal/delegation"
	"github.com/alanyoungcy/wagerengine/internal/domain"
	"github.com/alanyoungcy/wagerengine/internal/service"
)

// BetService is the bet lifecycle surface of the engine.
type BetService interface {
	PlaceBet(ctx context.Context, caller domain.Identity, p service.PlaceBetParams) (domain.UserBet, error)
	GetBet(ctx context.Context, id string) (domain.UserBet, error)
	DelegateBet(ctx context.Context, caller domain.Identity, betID string) (domain.UserBet, error)
	RevealBet(ctx context.Context, caller domain.Identity, betID string, low, high, target int64, salt []byte) (domain.UserBet, error)
	UpdateBet(ctx context.Context, caller domain.Identity, betID string, low, high, target int64, salt []byte) (domain.UserBet, error)
	UndelegateBet(ctx context.Context, caller domain.Identity, betID string) (delegation.Status, error)
	UndelegationStatus(betID string) delegation.Status
	AwaitUndelegation(ctx context.Context, betID string) (delegation.Status, error)
	CalculateOutcome(ctx context.Context, caller domain.Identity, betID string) (domain.UserBet, error)
	ClaimReward(ctx context.Context, caller domain.Identity, betID string) (domain.UserBet, error)
	RefundBet(ctx context.Context, caller domain.Identity, betID string) (domain.UserBet, error)
	EmergencyRefund(ctx context.Context, caller domain.Identity, betID string) (domain.UserBet, error)
}

// BetHandler serves /api/bets and bet placement.
type BetHandler struct {
	svc          BetService
	awaitTimeout time.Duration
	logger       *slog.Logger
}

// NewBetHandler creates a BetHandler. awaitTimeout bounds ?wait=true polls.
func NewBetHandler(svc BetService, awaitTimeout time.Duration, logger *slog.Logger) *BetHandler {
	return &BetHandler{svc: svc, awaitTimeout: awaitTimeout, logger: logger.With(slog.String("handler", "bet"))}
}

type placeBetRequest struct {
	RequestID      string `json:"request_id" validate:"required,max=64"`
	Amount         uint64 `json:"amount"`
	MultiplierBps  uint64 `json:"multiplier_bps"`
	MaxSlippageBps uint64 `json:"max_slippage_bps" validate:"lte=10000"`
	Commitment     string `json:"commitment" validate:"required"`
}

// PlaceBet escrows a committed wager.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req placeBetRequest
	if !decode(w, r, &req) {
		return
	}
	digest, err := domain.ParseDigest(req.Commitment)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request: commitment must be 32 bytes of hex")
		return
	}

	b, err := h.svc.PlaceBet(r.Context(), who, service.PlaceBetParams{
		MarketID:       r.PathValue("id"),
		RequestID:      req.RequestID,
		Amount:         req.Amount,
		MultiplierBps:  req.MultiplierBps,
		MaxSlippageBps: req.MaxSlippageBps,
		Commitment:     digest,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// GetBet returns one bet.
// GET /api/bets/{id}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBet(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get bet", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// predictionRequest carries a plaintext prediction into the enclave.
type predictionRequest struct {
	Low    int64  `json:"low"`
	High   int64  `json:"high"`
	Target int64  `json:"target"`
	Salt   string `json:"salt" validate:"omitempty,hexadecimal"`
}

// Reveal opens the commitment inside the enclave.
// POST /api/bets/{id}/reveal
func (h *BetHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	h.predict(w, r, "reveal bet", h.svc.RevealBet)
}

// Update changes the prediction of a delegated bet.
// POST /api/bets/{id}/update
func (h *BetHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.predict(w, r, "update bet", h.svc.UpdateBet)
}

func (h *BetHandler) predict(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, domain.Identity, string, int64, int64, int64, []byte) (domain.UserBet, error),
) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req predictionRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := fn(r.Context(), who, r.PathValue("id"), req.Low, req.High, req.Target, common.FromHex(req.Salt))
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Delegate hands the bet to the confidential domain.
// POST /api/bets/{id}/delegate
func (h *BetHandler) Delegate(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "delegate bet", h.svc.DelegateBet)
}

// Calculate scores a revealed bet.
// POST /api/bets/{id}/calculate
func (h *BetHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "calculate outcome", h.svc.CalculateOutcome)
}

// Claim pays out a calculated bet.
// POST /api/bets/{id}/claim
func (h *BetHandler) Claim(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "claim reward", h.svc.ClaimReward)
}

// Refund returns the deposit of an unrevealed bet, less the penalty.
// POST /api/bets/{id}/refund
func (h *BetHandler) Refund(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "refund bet", h.svc.RefundBet)
}

// EmergencyRefund returns the full deposit of a bet on an abandoned market.
// POST /api/bets/{id}/emergency-refund
func (h *BetHandler) EmergencyRefund(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "emergency refund", h.svc.EmergencyRefund)
}

func (h *BetHandler) act(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, domain.Identity, string) (domain.UserBet, error),
) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	b, err := fn(r.Context(), who, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Undelegate asks the enclave to commit the bet back. The commit completes
// asynchronously; poll the undelegation status.
// POST /api/bets/{id}/undelegate
func (h *BetHandler) Undelegate(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	st, err := h.svc.UndelegateBet(r.Context(), who, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "undelegate bet", err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// UndelegationStatus reports the latest undelegation. With ?wait=true it
// blocks until the commit settles or the await timeout passes.
// GET /api/bets/{id}/undelegation
func (h *BetHandler) UndelegationStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusOK, h.svc.UndelegationStatus(id))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.awaitTimeout)
	defer cancel()
	st, err := h.svc.AwaitUndelegation(ctx, id)
	if err != nil && ctx.Err() == nil {
		writeServiceError(w, r, h.logger, "await undelegation", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
