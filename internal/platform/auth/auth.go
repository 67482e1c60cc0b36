// Package auth protects the serve-mode HTTP API with static bearer tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/animus-labs/edm-harvester/internal/platform/env"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Identity struct {
	Subject string
	Roles   []string
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type Config struct {
	// OperatorToken may read reports and trigger runs.
	OperatorToken string
	// ReaderToken may only read reports.
	ReaderToken string
}

func ConfigFromEnv() Config {
	return Config{
		OperatorToken: strings.TrimSpace(env.String("HARVEST_API_TOKEN", "")),
		ReaderToken:   strings.TrimSpace(env.String("HARVEST_API_READ_TOKEN", "")),
	}
}

// Enabled reports whether any token is configured. Without tokens the API is
// open.
func (c Config) Enabled() bool {
	return c.OperatorToken != "" || c.ReaderToken != ""
}

func (c Config) Validate() error {
	if c.OperatorToken != "" && c.OperatorToken == c.ReaderToken {
		return errors.New("HARVEST_API_TOKEN and HARVEST_API_READ_TOKEN must differ")
	}
	return nil
}

// TokenAuthenticator matches the Authorization bearer token against the
// configured tokens.
type TokenAuthenticator struct {
	cfg Config
}

func NewTokenAuthenticator(cfg Config) (*TokenAuthenticator, error) {
	if !cfg.Enabled() {
		return nil, errors.New("at least one API token is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TokenAuthenticator{cfg: cfg}, nil
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, r *http.Request) (Identity, error) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(raw, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return Identity{}, ErrUnauthenticated
	}
	switch {
	case tokenEqual(a.cfg.OperatorToken, token):
		return Identity{Subject: "operator", Roles: []string{RoleOperator}}, nil
	case tokenEqual(a.cfg.ReaderToken, token):
		return Identity{Subject: "reader", Roles: []string{RoleReader}}, nil
	default:
		return Identity{}, errors.New("unknown token")
	}
}

func tokenEqual(want, got string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
