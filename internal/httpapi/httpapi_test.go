package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowkernel/kernel/internal/auth"
)

func TestHealthzOK(t *testing.T) {
	api := New(Kernel{}, ReadyProbe{}, "test", OperatorCredential{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyzOKWithoutDB(t *testing.T) {
	api := New(Kernel{}, ReadyProbe{}, "test", OperatorCredential{})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestConsentRevokeRequiresAuth(t *testing.T) {
	api := New(Kernel{}, ReadyProbe{}, "test", OperatorCredential{})
	req := httptest.NewRequest(http.MethodPost, "/v1/consent/revoke", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestConsentRevokeRejectsWrongRole(t *testing.T) {
	auth.ResetSecretForTests()
	t.Setenv("FLOWKERNEL_CONTROLLER_SECRET", "test-secret-value")

	token, err := auth.GenerateToken("0x01", []string{auth.RoleViewer}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	api := New(Kernel{}, ReadyProbe{}, "test", OperatorCredential{})
	req := httptest.NewRequest(http.MethodPost, "/v1/consent/revoke", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestConsentRevokeWithoutRegistryConfigured(t *testing.T) {
	auth.ResetSecretForTests()
	t.Setenv("FLOWKERNEL_CONTROLLER_SECRET", "test-secret-value")

	token, err := auth.GenerateToken("0x01", []string{auth.RoleController}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	api := New(Kernel{}, ReadyProbe{}, "test", OperatorCredential{})
	req := httptest.NewRequest(http.MethodPost, "/v1/consent/revoke", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestLoginDisabledWithoutPasswordHash(t *testing.T) {
	api := New(Kernel{}, ReadyProbe{}, "test", OperatorCredential{})
	req := httptest.NewRequest(http.MethodPost, "/v1/login", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
}

func TestLoginIssuesControllerToken(t *testing.T) {
	auth.ResetSecretForTests()
	t.Setenv("FLOWKERNEL_CONTROLLER_SECRET", "test-secret-value")

	hash, err := auth.HashPassword("swordfish")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	controllerAddr := common.HexToAddress("0xc0")
	api := New(Kernel{}, ReadyProbe{}, "test", OperatorCredential{
		User: "controller", PasswordHash: hash, Address: controllerAddr, TokenTTLSeconds: 60,
	})

	body, _ := json.Marshal(loginRequest{User: "controller", Password: "swordfish"})
	req := httptest.NewRequest(http.MethodPost, "/v1/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	claims, err := auth.ParseAndValidate(resp.Token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != controllerAddr.Hex() {
		t.Fatalf("subject = %s, want %s", claims.Subject, controllerAddr.Hex())
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	auth.ResetSecretForTests()
	t.Setenv("FLOWKERNEL_CONTROLLER_SECRET", "test-secret-value")

	hash, _ := auth.HashPassword("swordfish")
	api := New(Kernel{}, ReadyProbe{}, "test", OperatorCredential{
		User: "controller", PasswordHash: hash, Address: common.HexToAddress("0xc0"),
	})

	body, _ := json.Marshal(loginRequest{User: "controller", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/v1/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
