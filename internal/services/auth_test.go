package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sourcequill/backend/internal/platform/logger"
)

func testAuthService(t *testing.T, secret string) AuthService {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return NewAuthService(nil, log, nil, nil, secret, time.Hour, 24*time.Hour)
}

func signToken(t *testing.T, secret string, subject string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestParseAccessTokenRoundTrip(t *testing.T) {
	as := testAuthService(t, "test-secret")
	userID := uuid.New()

	token := signToken(t, "test-secret", userID.String(), time.Now().Add(time.Hour))
	got, err := as.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if got != userID {
		t.Fatalf("parsed userID = %s, want %s", got, userID)
	}
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	as := testAuthService(t, "test-secret")
	token := signToken(t, "test-secret", uuid.New().String(), time.Now().Add(-time.Minute))
	if _, err := as.ParseAccessToken(token); err == nil {
		t.Fatal("expired token should be rejected")
	}
}

func TestParseAccessTokenRejectsWrongSecret(t *testing.T) {
	as := testAuthService(t, "test-secret")
	token := signToken(t, "other-secret", uuid.New().String(), time.Now().Add(time.Hour))
	if _, err := as.ParseAccessToken(token); err == nil {
		t.Fatal("token signed with wrong secret should be rejected")
	}
}

func TestParseAccessTokenRejectsGarbageSubject(t *testing.T) {
	as := testAuthService(t, "test-secret")
	token := signToken(t, "test-secret", "not-a-uuid", time.Now().Add(time.Hour))
	if _, err := as.ParseAccessToken(token); err == nil {
		t.Fatal("non-uuid subject should be rejected")
	}
}

func TestHashTokenStableAndDistinct(t *testing.T) {
	a := hashToken("refresh-1")
	if a != hashToken("refresh-1") {
		t.Fatal("hash must be deterministic")
	}
	if a == hashToken("refresh-2") {
		t.Fatal("distinct tokens must hash differently")
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(a))
	}
}
