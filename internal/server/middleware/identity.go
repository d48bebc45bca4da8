package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerengine/internal/crypto"
	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// Signed-request headers.
const (
	HeaderAddress   = "X-Wager-Address"
	HeaderSignature = "X-Wager-Signature"
	HeaderTimestamp = "X-Wager-Timestamp"
	HeaderNonce     = "X-Wager-Nonce"
)

const (
	// maxSignedBody caps the body read for signature verification.
	maxSignedBody = 1 << 20
	maxNonceLen   = 128
)

type identityKey struct{}

// WithIdentity stores the authenticated caller in ctx.
func WithIdentity(ctx context.Context, id common.Address) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the authenticated caller, if any.
func IdentityFrom(ctx context.Context) (common.Address, bool) {
	id, ok := ctx.Value(identityKey{}).(common.Address)
	return id, ok
}

// Identity authenticates signed requests. The signature is an EIP-191
// personal signature over keccak(method || path || timestamp || nonce ||
// body) and the timestamp must lie within skew of now. Each nonce is accepted
// once per signer while its timestamp is acceptable; seen records them and a
// nil seen disables the replay check. Unsigned requests pass through
// anonymously; handlers that need a caller reject them.
func Identity(skew time.Duration, now func() time.Time, seen domain.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(HeaderSignature)
			if sig == "" {
				next.ServeHTTP(w, r)
				return
			}

			ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderTimestamp)), 10, 64)
			if err != nil {
				writeUnauthorized(w, "missing or malformed "+HeaderTimestamp)
				return
			}
			if d := now().Sub(time.Unix(ts, 0)); d > skew || d < -skew {
				writeUnauthorized(w, "request timestamp outside allowed skew")
				return
			}
			nonce := r.Header.Get(HeaderNonce)
			if nonce == "" || len(nonce) > maxNonceLen {
				writeUnauthorized(w, "missing or malformed "+HeaderNonce)
				return
			}

			var body []byte
			if r.Body != nil {
				body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
				_ = r.Body.Close()
				if err != nil || len(body) > maxSignedBody {
					writeUnauthorized(w, "unreadable request body")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			signer, err := crypto.RecoverRequest(r.Method, r.URL.Path, ts, nonce, body, sig)
			if err != nil {
				writeUnauthorized(w, "invalid request signature")
				return
			}
			if claimed := r.Header.Get(HeaderAddress); claimed != "" {
				if !common.IsHexAddress(claimed) || common.HexToAddress(claimed) != signer {
					writeUnauthorized(w, "signature does not match "+HeaderAddress)
					return
				}
			}

			if seen != nil {
				// The window spans both edges of the skew so a nonce cannot be
				// forgotten while its timestamp is still acceptable.
				fresh, err := seen.Allow(r.Context(), nonceKey(signer, nonce), 1, 2*skew+time.Second)
				if err != nil {
					writeJSONError(w, http.StatusServiceUnavailable, "replay check unavailable")
					return
				}
				if !fresh {
					writeUnauthorized(w, "request nonce already used")
					return
				}
			}

			noteCaller(r.Context(), signer)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), signer)))
		})
	}
}

func nonceKey(signer common.Address, nonce string) string {
	return "nonce:" + signer.Hex() + ":" + nonce
}
