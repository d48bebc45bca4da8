package middleware

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Logging writes one access line per request. Server errors log at error
// level and client errors at warn. Signed requests carry the caller, which
// Identity reports back through the request context.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &accessRecord{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), accessKey{}, rec)))

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int64("bytes", rec.bytes),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if rec.caller != nil {
				attrs = append(attrs, slog.String("caller", rec.caller.Hex()))
			}
			logger.LogAttrs(r.Context(), levelFor(rec.status), "http request", attrs...)
		})
	}
}

func levelFor(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

type accessKey struct{}

// noteCaller records the authenticated caller on the enclosing access record.
func noteCaller(ctx context.Context, id common.Address) {
	if rec, ok := ctx.Value(accessKey{}).(*accessRecord); ok {
		rec.caller = &id
	}
}

// accessRecord wraps the ResponseWriter to capture what the access line
// reports.
type accessRecord struct {
	http.ResponseWriter
	status  int
	bytes   int64
	written bool
	caller  *common.Address
}

func (a *accessRecord) WriteHeader(code int) {
	if !a.written {
		a.status = code
		a.written = true
	}
	a.ResponseWriter.WriteHeader(code)
}

func (a *accessRecord) Write(b []byte) (int, error) {
	a.written = true
	n, err := a.ResponseWriter.Write(b)
	a.bytes += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (a *accessRecord) Unwrap() http.ResponseWriter { return a.ResponseWriter }

// Hijack lets WebSocket upgrades pass through.
func (a *accessRecord) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := a.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("middleware: response writer cannot be hijacked")
	}
	a.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
