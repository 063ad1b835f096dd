package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/pto-service/logging"
	"github.com/warp/pto-service/platform"
)

// HeaderAccountID carries the host-asserted account id of the caller.
const HeaderAccountID = "X-Account-Id"

// requestLogger logs one line per request and stores a logger scoped to the
// request id in the context for handlers.
func requestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			l := base.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			next.ServeHTTP(ww, r.WithContext(logging.WithContext(r.Context(), l)))

			l.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}

// callerIdentity copies the caller headers into the request context.
func callerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := platform.Caller{
			AccountID: strings.TrimSpace(r.Header.Get(HeaderAccountID)),
			Token:     r.Header.Get("Authorization"),
		}
		if c.AccountID == "" && c.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(platform.WithCaller(r.Context(), c)))
	})
}
