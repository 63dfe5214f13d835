// Package auth resolves externally issued player identities. The core never
// mints identity itself; it consumes whatever the resolver returns.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"quizparty-service/internal/domain"
)

// Identity is the resolved player identity.
type Identity struct {
	PlayerID    string
	DisplayName string
}

// PlayerResolver turns an opaque token into a player identity.
type PlayerResolver interface {
	Resolve(token string) (Identity, error)
}

// JWTResolver validates HMAC-signed tokens carrying sub and name claims.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret []byte) *JWTResolver {
	return &JWTResolver{secret: secret}
}

func (r *JWTResolver) Resolve(token string) (Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, domain.ErrInvalidInput
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, domain.ErrInvalidInput
	}
	sub, _ := claims["sub"].(string)
	name, _ := claims["name"].(string)
	if sub == "" {
		return Identity{}, domain.ErrInvalidInput
	}
	if name == "" {
		name = sub
	}
	return Identity{PlayerID: sub, DisplayName: name}, nil
}

// GuestResolver issues a fresh identity per token-less connection, keeping
// the display name the client asked for. Used when no identity provider is
// configured (demos, tests).
type GuestResolver struct{}

func (GuestResolver) Resolve(displayName string) (Identity, error) {
	if displayName == "" {
		return Identity{}, domain.ErrInvalidInput
	}
	return Identity{PlayerID: uuid.NewString(), DisplayName: displayName}, nil
}

// Sign mints a token the JWTResolver accepts. Exported for tests and local
// tooling.
func Sign(secret []byte, playerID, displayName string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  playerID,
		"name": displayName,
	})
	return token.SignedString(secret)
}
