package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewTokenManager([]byte("secret"), time.Minute, "automation")

	token, err := m.Generate(42, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.CompanyID != 42 {
		t.Fatalf("expected company 42, got %d", claims.CompanyID)
	}
	if !claims.HasScope(ScopeEventsWrite) || claims.HasScope("admin") {
		t.Fatalf("unexpected scope %q", claims.Scope)
	}
}

func TestValidateRejectsForeignKey(t *testing.T) {
	token, err := NewTokenManager([]byte("other"), time.Minute, "automation").Generate(1, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewTokenManager([]byte("secret"), time.Minute, "automation").Validate(token); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	m := NewTokenManager([]byte("secret"), time.Minute, "automation")
	claims := APIClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			Issuer:    "automation",
		},
		CompanyID: 3,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Validate(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestValidateRequiresCompany(t *testing.T) {
	m := NewTokenManager([]byte("secret"), time.Minute, "automation")
	token, err := m.Generate(0, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := m.Validate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	m := NewTokenManager([]byte("secret"), time.Minute, "automation")
	claims := APIClaims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "automation"}, CompanyID: 3}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Validate(token); err == nil {
		t.Fatal("expected unsigned token to be rejected")
	}
}
