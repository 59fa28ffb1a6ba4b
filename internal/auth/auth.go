// Package auth выпускает и проверяет JWT токены вызывающей стороны API.
//
// Identity из токена кладётся в context запроса. По ней idempotency guard
// строит ключ, а handlers ограничивают запросы окружением.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "herald"

var (
	// ErrMissingToken — нет заголовка Authorization или он не Bearer.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken — подпись, срок или claims токена некорректны.
	ErrInvalidToken = errors.New("invalid token")
)

// Identity — вызывающая сторона.
type Identity struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	EnvironmentID  string `json:"environment_id"`
}

// Claims — claims токена Herald.
type Claims struct {
	jwt.RegisteredClaims
	Identity
}

// GenerateToken подписывает токен HS256 для identity.
func GenerateToken(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Identity: id,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken проверяет токен и возвращает identity.
// Токен без организации или окружения отклоняется.
func ParseToken(secret, token string) (Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.OrganizationID == "" || claims.EnvironmentID == "" {
		return Identity{}, fmt.Errorf("%w: organization and environment are required", ErrInvalidToken)
	}
	return claims.Identity, nil
}

// BearerToken извлекает токен из значения заголовка Authorization.
func BearerToken(header string) (string, error) {
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

type contextKey struct{}

// WithIdentity кладёт identity в context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext возвращает identity из context.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
