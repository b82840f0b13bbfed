package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newVerifier(t *testing.T, token string) *TokenVerifier {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewTokenVerifier(string(hash))
	if err != nil {
		t.Fatalf("NewTokenVerifier() error = %v", err)
	}
	return v
}

func TestHashToken(t *testing.T) {
	hash, err := HashToken("secret-token")
	if err != nil {
		t.Fatalf("HashToken() error = %v", err)
	}
	if hash == "" || hash == "secret-token" {
		t.Errorf("HashToken() = %q", hash)
	}

	hash2, _ := HashToken("secret-token")
	if hash == hash2 {
		t.Error("HashToken() should produce different hashes due to random salt")
	}
}

func TestNewTokenVerifier_InvalidHash(t *testing.T) {
	if _, err := NewTokenVerifier("not-a-bcrypt-hash"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("NewTokenVerifier() error = %v, want ErrInvalidHash", err)
	}
}

func TestTokenVerifier_Verify(t *testing.T) {
	v := newVerifier(t, "right")

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", "right", false},
		{"wrong", "wrong", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("Verify(%q) error = %v, wantErr %v", tt.token, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnauthorized) {
				t.Errorf("Verify(%q) error = %v, want ErrUnauthorized", tt.token, err)
			}
		})
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateToken()
	if len(a) != 64 || a == b {
		t.Errorf("GenerateToken() = %q, %q", a, b)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"Basic abc", ""},
		{"", ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := ExtractBearerToken(req); got != tt.want {
			t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestRequireAdmin(t *testing.T) {
	v := newVerifier(t, "admin-token")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		verifier *TokenVerifier
		header   string
		want     int
	}{
		{"valid token", v, "Bearer admin-token", http.StatusNoContent},
		{"wrong token", v, "Bearer nope", http.StatusUnauthorized},
		{"missing token", v, "", http.StatusUnauthorized},
		{"auth disabled", nil, "", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/keys", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			RequireAdmin(tt.verifier)(next).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}
