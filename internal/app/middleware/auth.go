package middleware

import (
	"context"
	"net/http"
	"strings"

	"transferd/internal/app/apperr"
	"transferd/internal/app/handler"
	"transferd/internal/app/identity"
	"transferd/internal/app/logger"
)

// Auth verifies the bearer credential through the identity collaborator and
// stores the caller's identity in the request context.
func Auth(verifier identity.Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.Get(r.Context(), "Middleware.Auth")

			reqHeader := r.Header.Get("Authorization")
			splitToken := strings.Split(reqHeader, "Bearer ")
			if len(splitToken) != 2 {
				log.Debug().Str("header", reqHeader).Msg("Invalid Authorization header")
				handler.WriteError(w, apperr.ErrUnauthorized, http.StatusUnauthorized)
				return
			}

			id, err := verifier.Verify(r.Context(), splitToken[1])
			if err != nil {
				log.Debug().Err(err).Msg("Token verification failed")
				handler.WriteError(w, apperr.ErrUnauthorized, http.StatusUnauthorized)
				return
			}

			log.Debug().Str("subject", id.Subject).Msg("Caller authorized")
			r = r.WithContext(context.WithValue(r.Context(), handler.ContextKeyIdentity{}, id))
			next.ServeHTTP(w, r)
		})
	}
}

// Superuser rejects callers without the superuser role. Must run after Auth.
func Superuser() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := handler.ReadContextIdentity(r.Context())
			if err != nil {
				handler.WriteError(w, apperr.ErrUnauthorized, http.StatusUnauthorized)
				return
			}

			if !id.Superuser {
				handler.WriteError(w, apperr.ErrForbidden, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
