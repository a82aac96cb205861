package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"receipt-scan-service/internal/logging"
)

// UserHeader carries the caller identity set by the upstream auth layer.
const UserHeader = "X-User-ID"

type ctxKey int

const userKey ctxKey = iota

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer for flushing.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	log = logging.Component(log, "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			start := time.Now()

			// chi middleware.RequestID puts the id into the context
			reqID := middleware.GetReqID(r.Context())

			next.ServeHTTP(sw, r)

			log.Info("request",
				logging.FieldRequestID, reqID,
				"method", r.Method,
				"path", r.URL.Path,
				logging.FieldStatus, sw.status,
				"bytes", sw.bytes,
				logging.FieldDuration, time.Since(start).Milliseconds(),
			)
		})
	}
}

// RequireUser rejects requests without a caller identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserHeader))
		if user == "" {
			writeErr(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func userFrom(ctx context.Context) string {
	u, _ := ctx.Value(userKey).(string)
	return u
}
