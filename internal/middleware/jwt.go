package middleware

import (
	"context"
	"net/http"
	"strings"

	"teamchat/internal/apperr"
	"teamchat/internal/httpx"
)

type contextKey string

const (
	UserKey        contextKey = "user_id"
	DisplayNameKey contextKey = "display_name"
)

// TokenValidator decouples this package from the user service.
type TokenValidator interface {
	ValidateToken(tokenString string) (int64, string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenString = parts[1]
			}
		}

		// Browsers cannot set headers on a websocket handshake.
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			httpx.WriteError(w, apperr.Unauthorized("missing authentication token"))
			return
		}

		userID, displayName, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			httpx.WriteError(w, apperr.Unauthorized("invalid token"))
			return
		}

		ctx := WithPrincipal(r.Context(), userID, displayName)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func WithPrincipal(ctx context.Context, userID int64, displayName string) context.Context {
	ctx = context.WithValue(ctx, UserKey, userID)
	return context.WithValue(ctx, DisplayNameKey, displayName)
}

// CurrentPrincipal returns the authenticated user id, or an Unauthorized
// error when the request carries none.
func CurrentPrincipal(r *http.Request) (int64, error) {
	userID, ok := r.Context().Value(UserKey).(int64)
	if !ok || userID <= 0 {
		return 0, apperr.Unauthorized("authentication required")
	}
	return userID, nil
}

func DisplayName(r *http.Request) string {
	name, _ := r.Context().Value(DisplayNameKey).(string)
	return name
}
