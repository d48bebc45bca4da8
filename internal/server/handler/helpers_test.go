package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrPaused, http.StatusServiceUnavailable},
		{fmt.Errorf("bet_service: claim: %w", domain.ErrUnauthorized), http.StatusForbidden},
		{domain.ErrConfirmationRequired, http.StatusForbidden},
		{fmt.Errorf("market: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrSlippageExceeded, http.StatusUnprocessableEntity},
		{domain.ErrInvalidFee, http.StatusUnprocessableEntity},
		{domain.ErrAlreadyClaimed, http.StatusConflict},
		{domain.ErrTimelockActive, http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"value":1,"extra":true}`))
	rec := httptest.NewRecorder()

	var dst resolveRequest
	assert.False(t, decode(rec, req, &dst))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDecode_Validates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","asset":"nope"}`))
	rec := httptest.NewRecorder()

	var dst createMarketRequest
	assert.False(t, decode(rec, req, &dst))
	assert.Contains(t, rec.Body.String(), "Asset failed eth_addr")
}

func TestWriteServiceError_HidesInternalErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/bets/1", nil)
	rec := httptest.NewRecorder()
	writeServiceError(rec, req, discard(), "get bet", errors.New("pg: dial tcp 10.0.0.1"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.1")
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
