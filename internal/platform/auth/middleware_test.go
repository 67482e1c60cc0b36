package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	authn, err := NewTokenAuthenticator(Config{OperatorToken: "op-secret", ReaderToken: "read-secret"})
	if err != nil {
		t.Fatalf("NewTokenAuthenticator() err=%v", err)
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok && r.URL.Path != "/healthz" {
			t.Errorf("identity missing for %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware{
		Logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Authenticator: authn,
		Authorize:     MethodRoleAuthorizer(),
		SkipPrefixes:  []string{"/healthz"},
	}.Wrap(next)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"health skips auth", http.MethodGet, "/healthz", "", http.StatusNoContent},
		{"missing token", http.MethodGet, "/runs/latest", "", http.StatusUnauthorized},
		{"unknown token", http.MethodGet, "/runs/latest", "nope", http.StatusUnauthorized},
		{"reader reads", http.MethodGet, "/runs/latest", "read-secret", http.StatusNoContent},
		{"reader cannot trigger", http.MethodPost, "/runs", "read-secret", http.StatusForbidden},
		{"operator triggers", http.MethodPost, "/runs", "op-secret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "http://example.test"+tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status=%d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestConfig(t *testing.T) {
	if (Config{}).Enabled() {
		t.Fatalf("empty config should be disabled")
	}
	if _, err := NewTokenAuthenticator(Config{}); err == nil {
		t.Fatalf("expected error without tokens")
	}
	if err := (Config{OperatorToken: "x", ReaderToken: "x"}).Validate(); err == nil {
		t.Fatalf("expected error for identical tokens")
	}
}
