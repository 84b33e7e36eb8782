package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nikhil/eavenchat/internal/response"
)

type ContextKey string

const UserContextKey ContextKey = "currentUser"

// Auth verifies the bearer token issued by the dashboard. Authentication
// policy lives there; the chat core only needs the user id claim.
type Auth struct {
	Secret []byte
}

// NewAuth creates the middleware for an HMAC secret.
func NewAuth(secret string) *Auth {
	return &Auth{Secret: []byte(secret)}
}

// Middleware rejects requests without a valid Authorization header.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.WithError(w, http.StatusUnauthorized, "Missing auth token")
			return
		}
		a.serve(w, r, next, strings.TrimPrefix(authHeader, "Bearer "))
	})
}

// WebSocketMiddleware also accepts the token as ?token=, since browsers
// cannot set headers on websocket upgrades.
func (a *Auth) WebSocketMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tokenStr == "" {
			tokenStr = r.URL.Query().Get("token")
		}
		if tokenStr == "" {
			response.WithError(w, http.StatusUnauthorized, "Missing auth token")
			return
		}
		a.serve(w, r, next, tokenStr)
	})
}

func (a *Auth) serve(w http.ResponseWriter, r *http.Request, next http.Handler, tokenStr string) {
	claims, err := a.Parse(tokenStr)
	if err != nil {
		response.WithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	ctx := context.WithValue(r.Context(), UserContextKey, claims)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// Parse validates tokenStr and returns its claims.
func (a *Auth) Parse(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if _, err := userIDFromClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Issue signs a token for userID. Used by the token command and by tests.
func (a *Auth) Issue(userID int64, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(a.Secret)
}

// UserIDFromContext returns the authenticated user id.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	claims, ok := ctx.Value(UserContextKey).(jwt.MapClaims)
	if !ok {
		return 0, false
	}
	id, err := userIDFromClaims(claims)
	if err != nil {
		return 0, false
	}
	return id, true
}

// WithUserID stores a user id the same way Middleware does.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserContextKey, jwt.MapClaims{"user_id": float64(userID)})
}

func userIDFromClaims(claims jwt.MapClaims) (int64, error) {
	// JWT numbers are decoded as float64
	switch v := claims["user_id"].(type) {
	case float64:
		if v <= 0 {
			return 0, errors.New("invalid user id")
		}
		return int64(v), nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return 0, errors.New("invalid user id")
		}
		return id, nil
	}
	return 0, errors.New("missing user id")
}

func ResponseWrapperMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
