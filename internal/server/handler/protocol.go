package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/wagerengine/internal/domain"
	"github.com/alanyoungcy/wagerengine/internal/service"
)

// ProtocolService is the configuration surface of the engine.
type ProtocolService interface {
	InitializeProtocol(ctx context.Context, caller domain.Identity, p service.InitParams) (domain.GlobalConfig, error)
	UpdateConfig(ctx context.Context, caller domain.Identity, patch domain.ConfigPatch) (domain.GlobalConfig, error)
	SetPause(ctx context.Context, caller domain.Identity, paused bool) (domain.GlobalConfig, error)
	ConfigAsset(ctx context.Context, caller domain.Identity, a domain.AssetConfig) (domain.AssetConfig, error)
	AdminTransferChallenge(ctx context.Context, caller, newAdmin domain.Identity) (string, error)
	TransferAdmin(ctx context.Context, caller, newAdmin domain.Identity, confirmation string) (domain.GlobalConfig, error)
	ProposeAdmin(ctx context.Context, caller, newAdmin domain.Identity) (domain.GlobalConfig, error)
	AcceptAdmin(ctx context.Context, caller domain.Identity) (domain.GlobalConfig, error)
	CancelAdminProposal(ctx context.Context, caller domain.Identity) (domain.GlobalConfig, error)
	Config(ctx context.Context) (domain.GlobalConfig, error)
	Assets(ctx context.Context) ([]domain.AssetConfig, error)
}

// ProtocolHandler serves /api/protocol and /api/assets.
type ProtocolHandler struct {
	svc    ProtocolService
	logger *slog.Logger
}

func NewProtocolHandler(svc ProtocolService, logger *slog.Logger) *ProtocolHandler {
	return &ProtocolHandler{svc: svc, logger: logger.With(slog.String("handler", "protocol"))}
}

type initializeRequest struct {
	Admin            string   `json:"admin" validate:"omitempty,eth_addr"`
	Treasury         string   `json:"treasury" validate:"required,eth_addr"`
	HouseFeeBps      uint16   `json:"house_fee_bps"`
	ParimutuelFeeBps uint16   `json:"parimutuel_fee_bps"`
	AllowedAssets    []string `json:"allowed_assets" validate:"dive,eth_addr"`
}

// Initialize creates the protocol configuration.
// POST /api/protocol/initialize
func (h *ProtocolHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req initializeRequest
	if !decode(w, r, &req) {
		return
	}

	p := service.InitParams{
		Treasury:         address(req.Treasury),
		HouseFeeBps:      req.HouseFeeBps,
		ParimutuelFeeBps: req.ParimutuelFeeBps,
		AllowedAssets:    addresses(req.AllowedAssets),
	}
	if req.Admin != "" {
		admin := address(req.Admin)
		p.Admin = &admin
	}

	cfg, err := h.svc.InitializeProtocol(r.Context(), who, p)
	if err != nil {
		writeServiceError(w, r, h.logger, "initialize", err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// patchRequest uses nil for fields the caller leaves unchanged.
type patchRequest struct {
	Treasury         *string   `json:"treasury" validate:"omitempty,eth_addr"`
	ParimutuelFeeBps *uint16   `json:"parimutuel_fee_bps"`
	HouseFeeBps      *uint16   `json:"house_fee_bps"`
	AllowedAssets    *[]string `json:"allowed_assets"`
}

func (p patchRequest) toPatch() (domain.ConfigPatch, bool) {
	var out domain.ConfigPatch
	if p.Treasury != nil {
		out.Treasury = domain.SetTo(address(*p.Treasury))
	}
	if p.ParimutuelFeeBps != nil {
		out.ParimutuelFeeBps = domain.SetTo(*p.ParimutuelFeeBps)
	}
	if p.HouseFeeBps != nil {
		out.HouseFeeBps = domain.SetTo(*p.HouseFeeBps)
	}
	if p.AllowedAssets != nil {
		for _, a := range *p.AllowedAssets {
			if _, ok := domain.ParseIdentity(a); !ok {
				return out, false
			}
		}
		out.AllowedAssets = domain.SetTo(addresses(*p.AllowedAssets))
	}
	return out, true
}

// UpdateConfig applies a partial configuration update.
// PATCH /api/protocol/config
func (h *ProtocolHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req patchRequest
	if !decode(w, r, &req) {
		return
	}
	patch, valid := req.toPatch()
	if !valid {
		writeError(w, http.StatusUnprocessableEntity, "invalid request: allowed_assets failed eth_addr")
		return
	}

	cfg, err := h.svc.UpdateConfig(r.Context(), who, patch)
	if err != nil {
		writeServiceError(w, r, h.logger, "update config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type pauseRequest struct {
	Paused *bool `json:"paused" validate:"required"`
}

// SetPause toggles the global pause switch.
// POST /api/protocol/pause
func (h *ProtocolHandler) SetPause(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req pauseRequest
	if !decode(w, r, &req) {
		return
	}
	cfg, err := h.svc.SetPause(r.Context(), who, *req.Paused)
	if err != nil {
		writeServiceError(w, r, h.logger, "set pause", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type assetRequest struct {
	PriceFeedRef   string `json:"price_feed_ref" validate:"required,max=128"`
	VolatilityBps  uint32 `json:"volatility_bps" validate:"lte=10000"`
	UsePythVol     bool   `json:"use_pyth_vol"`
	MercyBufferBps uint32 `json:"mercy_buffer_bps" validate:"lte=10000"`
}

// ConfigAsset upserts the policy of one asset.
// PUT /api/assets/{symbol}
func (h *ProtocolHandler) ConfigAsset(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req assetRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.svc.ConfigAsset(r.Context(), who, domain.AssetConfig{
		Symbol:         r.PathValue("symbol"),
		PriceFeedRef:   req.PriceFeedRef,
		VolatilityBps:  req.VolatilityBps,
		UsePythVol:     req.UsePythVol,
		MercyBufferBps: req.MercyBufferBps,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "config asset", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListAssets returns every configured asset.
// GET /api/assets
func (h *ProtocolHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.svc.Assets(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list assets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

type newAdminRequest struct {
	NewAdmin string `json:"new_admin" validate:"required,eth_addr"`
}

type transferRequest struct {
	NewAdmin     string `json:"new_admin" validate:"required,eth_addr"`
	Confirmation string `json:"confirmation" validate:"required"`
}

// TransferChallenge issues the confirmation token for an immediate transfer.
// POST /api/protocol/admin/challenge
func (h *ProtocolHandler) TransferChallenge(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req newAdminRequest
	if !decode(w, r, &req) {
		return
	}
	token, err := h.svc.AdminTransferChallenge(r.Context(), who, address(req.NewAdmin))
	if err != nil {
		writeServiceError(w, r, h.logger, "admin challenge", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"confirmation": token})
}

// TransferAdmin hands the admin role over immediately.
// POST /api/protocol/admin/transfer
func (h *ProtocolHandler) TransferAdmin(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	cfg, err := h.svc.TransferAdmin(r.Context(), who, address(req.NewAdmin), req.Confirmation)
	if err != nil {
		writeServiceError(w, r, h.logger, "transfer admin", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// ProposeAdmin starts a timelocked handoff.
// POST /api/protocol/admin/propose
func (h *ProtocolHandler) ProposeAdmin(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req newAdminRequest
	if !decode(w, r, &req) {
		return
	}
	cfg, err := h.svc.ProposeAdmin(r.Context(), who, address(req.NewAdmin))
	if err != nil {
		writeServiceError(w, r, h.logger, "propose admin", err)
		return
	}
	writeJSON(w, http.StatusAccepted, cfg)
}

// AcceptAdmin completes a handoff once the timelock has passed.
// POST /api/protocol/admin/accept
func (h *ProtocolHandler) AcceptAdmin(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	cfg, err := h.svc.AcceptAdmin(r.Context(), who)
	if err != nil {
		writeServiceError(w, r, h.logger, "accept admin", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// CancelProposal drops a pending handoff.
// POST /api/protocol/admin/cancel
func (h *ProtocolHandler) CancelProposal(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	cfg, err := h.svc.CancelAdminProposal(r.Context(), who)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel admin proposal", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// GetConfig returns the protocol configuration.
// GET /api/protocol/config
func (h *ProtocolHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Config(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
