// Package auth guards the admin channel API with HS256 bearer tokens.
package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stream-bridge/internal/common/errors"
)

const (
	issuer = "stream-bridge"
	// MinSecretLength is the shortest accepted signing secret.
	MinSecretLength = 32
	// DefaultTokenTTL is the lifetime of tokens issued without an explicit TTL.
	DefaultTokenTTL = 24 * time.Hour
)

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Auth struct {
	secret []byte
	now    func() time.Time
}

func New(secret string) (*Auth, error) {
	if len(secret) < MinSecretLength {
		return nil, errors.ConfigError(fmt.Sprintf("admin JWT secret must be at least %d characters", MinSecretLength))
	}
	return &Auth{secret: []byte(secret), now: time.Now}, nil
}

// GenerateJWT issues a token for username valid for ttl.
func (a *Auth) GenerateJWT(username string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := a.now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return token, nil
}

// ValidateJWT parses tokenString and returns its claims.
func (a *Auth) ValidateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, errors.AuthError(fmt.Sprintf("invalid token: %v", err))
	}
	if !token.Valid {
		return nil, errors.AuthError("invalid token")
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token. The token's
// username is passed on in the X-Username header.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			unauthorized(w, "Authentication required")
			return
		}

		claims, err := a.ValidateJWT(strings.TrimSpace(tokenString))
		if err != nil {
			unauthorized(w, "Invalid or expired token")
			return
		}

		r.Header.Set("X-Username", claims.Username)
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="stream-bridge"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
