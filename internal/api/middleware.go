/**
 * @description
 * Session authentication for the HTTP API. Tokens are HS256 JWTs whose `sub`
 * claim is the principal id and whose `kind` claim is "user" or "ngo".
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token parsing and validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pankajsagvekar/meal-mitra/internal/domain"
)

// SessionContextKey is a custom type for the context key to avoid collisions.
type SessionContextKey string

const sessionKey SessionContextKey = "session"

// Session is the identity carried by a validated bearer token.
type Session struct {
	PrincipalID uuid.UUID
	Kind        domain.PrincipalKind
}

// SessionAuthMiddleware validates the bearer token and stores the Session in the request context.
func SessionAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Authorization header required")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid Authorization header format")
				return
			}
			if len(key) == 0 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Session signing is not configured")
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
				return
			}

			sub, err := claims.GetSubject()
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Subject not found in token")
				return
			}
			principalID, err := uuid.Parse(sub)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid subject in token")
				return
			}

			kind := domain.PrincipalUser
			if rawKind, ok := claims["kind"].(string); ok && rawKind != "" {
				kind = domain.PrincipalKind(strings.ToLower(rawKind))
			}
			if kind != domain.PrincipalUser && kind != domain.PrincipalNGO {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Unknown principal kind")
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, Session{PrincipalID: principalID, Kind: kind})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession retrieves the authenticated session from the request context.
func GetSession(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionKey).(Session)
	return session, ok
}
