package auth

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"quizparty-service/internal/domain"
)

func TestJWTResolverRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Sign(secret, "player-42", "Ada")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	id, err := NewJWTResolver(secret).Resolve(token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.PlayerID != "player-42" || id.DisplayName != "Ada" {
		t.Errorf("got %+v", id)
	}
}

func TestJWTResolverRejectsBadSignature(t *testing.T) {
	token, err := Sign([]byte("other-secret"), "player-42", "Ada")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := NewJWTResolver([]byte("test-secret")).Resolve(token); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestJWTResolverRejectsGarbage(t *testing.T) {
	if _, err := NewJWTResolver([]byte("s")).Resolve("not.a.token"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestJWTResolverRejectsMissingSubject(t *testing.T) {
	secret := []byte("test-secret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"name": "Ada"}).SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := NewJWTResolver(secret).Resolve(token); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestJWTResolverNameFallsBackToSubject(t *testing.T) {
	secret := []byte("test-secret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "player-7"}).SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	id, err := NewJWTResolver(secret).Resolve(token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.DisplayName != "player-7" {
		t.Errorf("display name = %q, want subject fallback", id.DisplayName)
	}
}

func TestGuestResolverIssuesFreshIDs(t *testing.T) {
	var r GuestResolver
	a, err := r.Resolve("Ada")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, err := r.Resolve("Ada")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.PlayerID == b.PlayerID {
		t.Error("guest identities must not collide")
	}
	if a.DisplayName != "Ada" {
		t.Errorf("display name = %q", a.DisplayName)
	}

	if _, err := r.Resolve(""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput for empty name", err)
	}
}
