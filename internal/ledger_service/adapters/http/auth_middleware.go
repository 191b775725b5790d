package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const userIDContextKey = contextKey("authenticatedUserID")

// UserIDFromContext returns the user id placed on the request by AuthMiddleware.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDContextKey).(uuid.UUID)
	return id, ok
}

func withUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDContextKey, id)
}

// AuthMiddleware accepts HS256 bearer tokens whose subject is the user id.
// Tokens are issued by the account service; this service only verifies them.
func AuthMiddleware(secret []byte, logger *slog.Logger) func(next http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	keyFunc := func(*jwt.Token) (interface{}, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
				logger.WarnContext(r.Context(), "Missing or malformed Authorization header")
				writeJSONError(w, http.StatusUnauthorized, "authorization required", "")
				return
			}

			claims := &jwt.RegisteredClaims{}
			if _, err := parser.ParseWithClaims(token, claims, keyFunc); err != nil {
				logger.WarnContext(r.Context(), "Token validation failed", "error", err)
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired token", "")
				return
			}
			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				logger.WarnContext(r.Context(), "Token subject is not a user id", "subject", claims.Subject)
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired token", "")
				return
			}
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
		})
	}
}

// IssueToken signs an access token for userID. Used by tests and local tooling.
func IssueToken(secret []byte, userID uuid.UUID, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty signing secret")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
