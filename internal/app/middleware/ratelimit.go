package middleware

import (
	"errors"
	"net"
	"net/http"

	"transferd/internal/app/apperr"
	"transferd/internal/app/handler"
	"transferd/internal/app/logger"
	"transferd/internal/app/ratelimit"
)

// RateLimit rejects callers exceeding the fixed-window request budget for
// the endpoint. The counter key is the authenticated subject when present,
// otherwise the client address.
func RateLimit(limiter *ratelimit.Limiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.Get(r.Context(), "Middleware.RateLimit")

			ident := clientAddr(r)
			if id, err := handler.ReadContextIdentity(r.Context()); err == nil {
				ident = id.Subject
			}

			if err := limiter.Allow(r.Context(), ident, r.URL.Path); err != nil {
				if errors.Is(err, apperr.ErrTooManyRequests) {
					log.Debug().Str("ident", ident).Msg("Rate limit exceeded")
					handler.WriteError(w, apperr.ErrTooManyRequests, http.StatusTooManyRequests)
					return
				}
				log.Warn().Err(err).Msg("Rate limit check failed")
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
