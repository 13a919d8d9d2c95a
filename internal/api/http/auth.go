package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/vadimbarashkov/snip/internal/service"
	"github.com/vadimbarashkov/snip/pkg/response"
)

type contextKey string

// ownerKey carries the opaque owner identifier through the request context.
const ownerKey contextKey = "owner"

const ownerCookieName = "snip_owner"

// ownerFromContext returns the owner identifier set by withOwner, or the
// empty string outside the middleware chain.
func ownerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}

// withOwner resolves the caller's owner identifier from the signed cookie,
// minting a fresh anonymous identity when the cookie is missing or invalid.
// The core treats the identifier as an opaque scoping key.
func withOwner(auth *service.Auth) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cookie, err := r.Cookie(ownerCookieName); err == nil {
				if claims, err := auth.ParseToken(cookie.Value); err == nil {
					ctx := context.WithValue(r.Context(), ownerKey, claims.OwnerID)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			token, ownerID, err := auth.IssueToken()
			if err != nil {
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.ServerErrorResponse)
				return
			}

			http.SetCookie(w, &http.Cookie{
				Name:     ownerCookieName,
				Value:    token,
				Expires:  time.Now().Add(365 * 24 * time.Hour),
				HttpOnly: true,
				Path:     "/",
				SameSite: http.SameSiteLaxMode,
			})

			ctx := context.WithValue(r.Context(), ownerKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
