package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/wagerengine/internal/domain"
	"github.com/alanyoungcy/wagerengine/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// writeJSON marshals v and writes it with status. Marshal failures fall back
// to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var (
	forbidden = []error{
		domain.ErrUnauthorized,
		domain.ErrAdminMismatch,
		domain.ErrConfirmationRequired,
	}
	notFound = []error{
		domain.ErrNotFound,
	}
	unprocessable = []error{
		domain.ErrInvalidFee,
		domain.ErrInvalidWindow,
		domain.ErrInvalidReveal,
		domain.ErrInvalidAmount,
		domain.ErrSlippageExceeded,
		domain.ErrInvalidPolicy,
		domain.ErrInvalidMode,
		domain.ErrInvalidAssetList,
		domain.ErrInvalidSymbol,
		domain.ErrInvalidIdentity,
		domain.ErrAssetNotAllowed,
		domain.ErrInsufficientBalance,
	}
	conflict = []error{
		domain.ErrAlreadyInitialized,
		domain.ErrNotInitialized,
		domain.ErrDuplicateMarket,
		domain.ErrBettingClosed,
		domain.ErrDuplicateBet,
		domain.ErrNotRevealed,
		domain.ErrAlreadyCalculated,
		domain.ErrNotYetUndelegated,
		domain.ErrNotExpired,
		domain.ErrAlreadyResolved,
		domain.ErrAlreadyFinalized,
		domain.ErrAlreadyClaimed,
		domain.ErrNotSettled,
		domain.ErrAlreadyDelegated,
		domain.ErrInsufficientVault,
		domain.ErrNotDelegated,
		domain.ErrNotResolved,
		domain.ErrRevealWindowExpired,
		domain.ErrAlreadyRevealed,
		domain.ErrTimelockActive,
		domain.ErrUndelegationPending,
		domain.ErrTimeoutNotMet,
		domain.ErrLockHeld,
	}
)

// classes pairs each status with the sentinels it covers.
var classes = []struct {
	status  int
	targets []error
}{
	{http.StatusServiceUnavailable, []error{domain.ErrPaused}},
	{http.StatusForbidden, forbidden},
	{http.StatusNotFound, notFound},
	{http.StatusUnprocessableEntity, unprocessable},
	{http.StatusConflict, conflict},
}

// classify returns the HTTP status of err and the protocol sentinel it
// wraps, or 500 and nil.
func classify(err error) (int, error) {
	for _, c := range classes {
		for _, t := range c.targets {
			if errors.Is(err, t) {
				return c.status, t
			}
		}
	}
	return http.StatusInternalServerError, nil
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	status, _ := classify(err)
	return status
}

// writeServiceError answers with the protocol sentinel message. Anything
// else is logged and hidden behind a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, sentinel := classify(err)
	if sentinel == nil {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, sentinel.Error())
}

// decode reads a JSON body into dst and validates its tags. Failures are
// written as 422 and reported as false.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusUnprocessableEntity, "malformed body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// caller returns the authenticated identity or writes 401.
func caller(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "signed request required")
	}
	return id, ok
}

func address(s string) domain.Identity { return common.HexToAddress(s) }

func addresses(in []string) []domain.AssetID {
	out := make([]domain.AssetID, 0, len(in))
	for _, s := range in {
		out = append(out, address(s))
	}
	return out
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
