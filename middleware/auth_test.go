package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExtractTokenFromRequest(t *testing.T) {
	tests := []struct {
		name      string
		headers   map[string]string
		wantToken string
	}{
		{
			name:      "bearer token in Authorization header",
			headers:   map[string]string{"Authorization": "Bearer test-token-123"},
			wantToken: "test-token-123",
		},
		{
			name:      "bearer lowercase",
			headers:   map[string]string{"Authorization": "bearer test-token-456"},
			wantToken: "test-token-456",
		},
		{
			name:      "no authorization header",
			headers:   map[string]string{},
			wantToken: "",
		},
		{
			name:      "invalid format - no bearer",
			headers:   map[string]string{"Authorization": "test-token"},
			wantToken: "",
		},
		{
			name:      "websocket subprotocol",
			headers:   map[string]string{"Sec-WebSocket-Protocol": "bearer, ws-token-789"},
			wantToken: "ws-token-789",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			token := ExtractTokenFromRequest(req)
			if token != tt.wantToken {
				t.Errorf("expected token %q, got %q", tt.wantToken, token)
			}
		})
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	token, err := m.GenerateToken("client-abc", time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	clientID, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if clientID != "client-abc" {
		t.Errorf("expected client-abc, got %q", clientID)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuer := NewAuthMiddleware("secret-a")
	verifier := NewAuthMiddleware("secret-b")

	token, err := issuer.GenerateToken("client-abc", time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	if _, err := verifier.ValidateToken(token); err == nil {
		t.Error("expected validation to fail with the wrong secret")
	}
}

func TestValidateToken_Expired(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	token, err := m.GenerateToken("client-abc", -time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	if _, err := m.ValidateToken(token); err == nil {
		t.Error("expected validation to fail for an expired token")
	}
}

func TestAuthenticate(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	var gotClientID string
	handler := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClientID = GetClientID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid token passes through", func(t *testing.T) {
		token, err := m.GenerateToken("client-abc", time.Hour)
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
		if gotClientID != "client-abc" {
			t.Errorf("expected client id in context, got %q", gotClientID)
		}
	})

	t.Run("missing header rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})
}

func TestWriteAuthError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeAuthError(rr, "test error message")

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}

	if rr.Header().Get("Content-Type") != "application/json" {
		t.Errorf("expected Content-Type application/json")
	}

	expected := `{"error":"test error message"}`
	if rr.Body.String() != expected {
		t.Errorf("expected body %q, got %q", expected, rr.Body.String())
	}
}
