package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"
)

// JWTMiddleware resolves the caller from an X-API-Key header, a bearer token
// or the auth_token cookie and exposes it to operations as X-User-ID and
// X-User-Role. Client supplied copies of those headers are always dropped. Requests without a
// valid token pass through anonymously; operations decide via Authorize.
func (h *AuthHandler) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(HeaderUserID)
		r.Header.Del(HeaderUserRole)

		if key := r.Header.Get(HeaderAPIKey); key != "" {
			userID, role, err := h.resolveAPIKey(r.Context(), key)
			if err == nil {
				setIdentity(r, userID, role)
			} else if !errors.Is(err, ErrInvalidAPIKey) {
				hlog.FromRequest(r).Error().Err(err).Msg("api key lookup failed")
			}
			next.ServeHTTP(w, r)
			return
		}

		tokenString, fromCookie := tokenFromRequest(r)
		if tokenString == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, role, exp, err := h.ParseToken(tokenString)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		// Sliding session: refresh the cookie once more than half its
		// lifetime has passed.
		if fromCookie && !exp.IsZero() && time.Until(exp) < TokenDuration/2 {
			if newToken, err := h.GenerateToken(userID, role); err == nil {
				cookie := sessionCookie(newToken)
				http.SetCookie(w, &cookie)
			}
		}

		setIdentity(r, userID, role)
		next.ServeHTTP(w, r)
	})
}

func setIdentity(r *http.Request, userID uint, role string) {
	r.Header.Set(HeaderUserID, strconv.FormatUint(uint64(userID), 10))
	r.Header.Set(HeaderUserRole, role)
}

func tokenFromRequest(r *http.Request) (string, bool) {
	if authz := r.Header.Get("Authorization"); authz != "" {
		if token, ok := strings.CutPrefix(authz, "Bearer "); ok {
			return strings.TrimSpace(token), false
		}
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value, true
	}
	return "", false
}
