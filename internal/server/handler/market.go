package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/wagerengine/internal/domain"
	"github.com/alanyoungcy/wagerengine/internal/service"
)

// MarketService is the market lifecycle surface of the engine.
type MarketService interface {
	CreateFixedMarket(ctx context.Context, caller domain.Identity, p service.CreateMarketParams) (domain.Market, error)
	CreatePool(ctx context.Context, caller domain.Identity, p service.CreateMarketParams) (domain.Market, error)
	ResolveMarket(ctx context.Context, caller domain.Identity, id string, value int64) (domain.Market, error)
	FinalizeWeights(ctx context.Context, caller domain.Identity, id string) (domain.Market, error)
	BatchCalculate(ctx context.Context, caller domain.Identity, marketID string) (int, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error)
	ListBets(ctx context.Context, marketID string) ([]domain.UserBet, error)
	MarketHistory(ctx context.Context, id string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// ArchiveStore opens exported market archives.
type ArchiveStore interface {
	Open(ctx context.Context, marketID string) (io.ReadCloser, error)
}

// MarketHandler serves /api/markets and /api/pools.
type MarketHandler struct {
	svc     MarketService
	archive ArchiveStore
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. archive may be nil.
func NewMarketHandler(svc MarketService, archive ArchiveStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{svc: svc, archive: archive, logger: logger.With(slog.String("handler", "market"))}
}

type createMarketRequest struct {
	Name             string `json:"name" validate:"required,max=64"`
	Description      string `json:"description" validate:"max=256"`
	Asset            string `json:"asset" validate:"required,eth_addr"`
	StartTime        int64  `json:"start_time" validate:"gte=0"`
	EndTime          int64  `json:"end_time" validate:"gte=0"`
	Mode             string `json:"mode" validate:"omitempty,oneof=house parimutuel"`
	ResolutionPolicy string `json:"resolution_policy" validate:"omitempty,oneof=target_only range"`
	FeeParam         uint64 `json:"fee_param"`
	SlippageParam    uint64 `json:"slippage_param"`
	SeedLiquidity    uint64 `json:"seed_liquidity"`
}

func (req createMarketRequest) params() service.CreateMarketParams {
	return service.CreateMarketParams{
		Name:             req.Name,
		Description:      req.Description,
		Asset:            address(req.Asset),
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		Mode:             domain.MarketMode(req.Mode),
		ResolutionPolicy: domain.ResolutionPolicy(req.ResolutionPolicy),
		FeeParam:         req.FeeParam,
		SlippageParam:    req.SlippageParam,
		SeedLiquidity:    req.SeedLiquidity,
	}
}

// CreateFixedMarket creates a fixed market.
// POST /api/markets/fixed
func (h *MarketHandler) CreateFixedMarket(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.svc.CreateFixedMarket)
}

// CreatePool creates a parimutuel pool.
// POST /api/pools
func (h *MarketHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.svc.CreatePool)
}

func (h *MarketHandler) create(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, domain.Identity, service.CreateMarketParams) (domain.Market, error),
) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := fn(r.Context(), who, req.params())
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type resolveRequest struct {
	Value *int64 `json:"value" validate:"required"`
}

// Resolve records the resolution value of an expired market.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.svc.ResolveMarket(r.Context(), who, r.PathValue("id"), *req.Value)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Finalize totals the weights of a resolved pool.
// POST /api/markets/{id}/finalize
func (h *MarketHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	m, err := h.svc.FinalizeWeights(r.Context(), who, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "finalize weights", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// BatchCalculate scores every remaining bet of a market.
// POST /api/markets/{id}/batch-calculate
func (h *MarketHandler) BatchCalculate(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	n, err := h.svc.BatchCalculate(r.Context(), who, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "batch calculate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"calculated": n})
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets lists markets, optionally filtered by kind and resolution.
// GET /api/markets?kind=pool&resolved=false&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.MarketFilter{
		Kind:   domain.MarketKind(q.Get("kind")),
		Limit:  min(queryInt(r, "limit", 50), 500),
		Offset: queryInt(r, "offset", 0),
	}
	if v := q.Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "resolved must be a boolean")
			return
		}
		f.Resolved = &b
	}

	markets, err := h.svc.ListMarkets(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Limit: f.Limit, Offset: f.Offset})
}

// GetMarket returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListBets returns every bet of a market.
// GET /api/markets/{id}/bets
func (h *MarketHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.svc.ListBets(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list bets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets})
}

// History returns the market's audit trail.
// GET /api/markets/{id}/history?limit=100&offset=0
func (h *MarketHandler) History(w http.ResponseWriter, r *http.Request) {
	opts := domain.ListOpts{
		Limit:  min(queryInt(r, "limit", 100), 500),
		Offset: queryInt(r, "offset", 0),
	}
	entries, err := h.svc.MarketHistory(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "market history", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Archive streams the JSONL export of a settled market.
// GET /api/markets/{id}/archive
func (h *MarketHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archive storage not configured")
		return
	}
	rc, err := h.archive.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not archived")
			return
		}
		writeServiceError(w, r, h.logger, "open archive", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("market_id", r.PathValue("id")),
			slog.String("error", err.Error()),
		)
	}
}
