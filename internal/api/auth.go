package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"fieldroute/internal/auth"
	"fieldroute/internal/store"
)

type ctxKeyPrincipal struct{}

// authenticate resolves the bearer token to a user and a business. Tokens
// without a business claim fall back to the user's profile.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization")
			return
		}
		p, err := s.Auth.Verify(r.Context(), tok)
		if err != nil {
			log.Debug().Err(err).Msg("token rejected")
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if p.BusinessID == "" {
			biz, err := s.Store.BusinessForUser(r.Context(), p.UserID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				writeError(w, http.StatusBadRequest, "no business associated with user")
				return
			case err != nil:
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			p.BusinessID = biz
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(ctxKeyPrincipal{}).(auth.Principal)
	return p
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// WebSocket or EventSource requests, so access_token is accepted as well.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("access_token")
}
