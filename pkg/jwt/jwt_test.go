package jwt

import (
	"testing"
	"time"
)

func TestGeneratePairAndValidate(t *testing.T) {
	pair, err := GeneratePair("user-1", "secret", time.Hour, 168*time.Hour)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens to be minted")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatal("expected distinct tokens")
	}

	access, err := ValidateToken(pair.AccessToken, "secret")
	if err != nil {
		t.Fatalf("expected valid access token, got %v", err)
	}
	if access.UserID != "user-1" || access.TokenType != AccessToken {
		t.Fatalf("unexpected access claims: %+v", access)
	}

	refresh, err := ValidateToken(pair.RefreshToken, "secret")
	if err != nil {
		t.Fatalf("expected valid refresh token, got %v", err)
	}
	if refresh.TokenType != RefreshToken {
		t.Fatalf("expected refresh token type, got %s", refresh.TokenType)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken("user-1", AccessToken, "secret", time.Hour)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, err := ValidateToken(token, "other-secret"); err == nil {
		t.Fatal("expected validation to fail with wrong secret")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	token, err := GenerateToken("user-1", AccessToken, "secret", -time.Minute)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, err := ValidateToken(token, "secret"); err == nil {
		t.Fatal("expected expired token to fail validation")
	}
}

func TestIsTokenValid(t *testing.T) {
	token, err := GenerateToken("user-1", RefreshToken, "secret", time.Hour)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !IsTokenValid(token, "secret", RefreshToken) {
		t.Fatal("expected refresh token to be valid as refresh")
	}
	if IsTokenValid(token, "secret", AccessToken) {
		t.Fatal("expected refresh token to be invalid as access")
	}
	if IsTokenValid("garbage", "secret", AccessToken) {
		t.Fatal("expected garbage token to be invalid")
	}
}
