package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/campuscoin/coin-service/internal/infrastructure/redis"
	"github.com/campuscoin/coin-service/internal/models"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxRole
)

// UserID returns the authenticated caller's id from the request context.
func UserID(ctx context.Context) int32 {
	id, _ := ctx.Value(ctxUserID).(int32)
	return id
}

// CallerRole returns the authenticated caller's role from the request context.
func CallerRole(ctx context.Context) models.Role {
	role, _ := ctx.Value(ctxRole).(models.Role)
	return role
}

// WithCaller is used by tests to build authenticated contexts.
func WithCaller(ctx context.Context, userID int32, role models.Role) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	return context.WithValue(ctx, ctxRole, role)
}

func Middleware(redisClient redis.RedisClient, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header missing", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			tokenStr := parts[1]
			userID, role, err := ParseToken(tokenStr, jwtSecret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			// Sessions are revocable: the token must still be in Redis.
			redisKey := fmt.Sprintf("user:%d:token", userID)
			storedToken, err := redisClient.Get(r.Context(), redisKey)
			if err != nil || storedToken != tokenStr {
				slog.Error("invalid or revoked token", "user_id", userID, "error", err)
				http.Error(w, "invalid or revoked token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), userID, role)))
		})
	}
}

// RequireRoles rejects callers whose role is not in the allowed set.
func RequireRoles(roles ...models.Role) func(http.Handler) http.Handler {
	allowed := make(map[models.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed[CallerRole(r.Context())] {
				http.Error(w, "access denied", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
