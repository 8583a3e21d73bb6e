package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestService(t *testing.T, password string, tokenDuration time.Duration) *Service {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return NewService(hash, "test-secret-key", tokenDuration)
}

func TestLoginWithCorrectPassword(t *testing.T) {
	service := newTestService(t, "correct horse battery staple", time.Hour)

	pair, err := service.Login("correct horse battery staple")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if pair.AccessToken == "" {
		t.Error("empty access token")
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("token type = %q, want Bearer", pair.TokenType)
	}
	if pair.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", pair.ExpiresIn)
	}
}

func TestLoginWithWrongPassword(t *testing.T) {
	service := newTestService(t, "right", time.Hour)

	if _, err := service.Login("wrong"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("error = %v, want ErrInvalidPassword", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	service := newTestService(t, "pw", time.Hour)

	pair, err := service.Login("pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	claims, err := service.ValidateToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "operator" {
		t.Errorf("subject = %q, want operator", claims.Subject)
	}
	if claims.Issuer != "trading-dashboard" {
		t.Errorf("issuer = %q, want trading-dashboard", claims.Issuer)
	}
}

func TestValidateGarbageToken(t *testing.T) {
	service := newTestService(t, "pw", time.Hour)

	if _, err := service.ValidateToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateTokenSignedWithOtherSecret(t *testing.T) {
	service := newTestService(t, "pw", time.Hour)
	other := NewService(string(service.passwordHash), "different-secret", time.Hour)

	pair, err := other.Login("pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := service.ValidateToken(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("error = %v, want ErrInvalidToken", err)
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	service := newTestService(t, "pw", time.Hour)
	service.tokenDuration = -time.Minute

	pair, err := service.Login("pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := service.ValidateToken(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("error = %v, want ErrTokenExpired", err)
	}
}
