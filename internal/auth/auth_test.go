package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("operator-1", []string{"Controller", "viewer", "controller"}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "operator-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduped roles, got %v", claims.Roles)
	}

	ctx := ContextWithUser(t.Context(), claims.Subject, claims.Roles)
	if err := RequireRole(ctx, RoleController); err != nil {
		t.Fatalf("expected controller role: %v", err)
	}
	if err := RequireRole(ctx, "admin"); err == nil {
		t.Fatal("expected missing role to fail")
	}
}

func TestGenerateTokenRejectsEmptyUser(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	if _, err := GenerateToken("", []string{"controller"}, time.Minute); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestParseAndValidateRejectsExpired(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("operator-1", []string{"controller"}, time.Nanosecond)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	if _, err := ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
