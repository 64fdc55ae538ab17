package gateway

import (
	"context"
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"fxpanel/internal/domain"
	"fxpanel/internal/infra/config"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name  string
	Roles []string
}

// CanControl reports whether the client may change server state. Tokens
// without roles are treated as admin.
func (c *ClientInfo) CanControl() bool {
	if len(c.Roles) == 0 {
		return true
	}
	return slices.Contains(c.Roles, "admin") || slices.Contains(c.Roles, "operator")
}

// Authenticator validates incoming gateway requests.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison to prevent timing attacks.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from the configured tokens.
func NewStaticTokenAuth(tokens []config.TokenConfig) *StaticTokenAuth {
	a := &StaticTokenAuth{
		entries: make([]authEntry, len(tokens)),
	}
	for i, t := range tokens {
		a.entries[i] = authEntry{
			token: []byte(t.Token),
			info:  &ClientInfo{Name: t.Name, Roles: t.Roles},
		}
	}
	return a
}

// Authenticate returns client info if the token is valid.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	if token == "" {
		return nil, domain.ErrGatewayAuthFailed
	}
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			return e.info, nil
		}
	}
	return nil, domain.ErrGatewayAuthFailed
}

// openAuth accepts every request. Used when gateway.auth.type is empty.
type openAuth struct{}

func (openAuth) Authenticate(string) (*ClientInfo, error) {
	return &ClientInfo{Name: "local"}, nil
}

// AuthFromConfig returns the authenticator selected by cfg.
func AuthFromConfig(cfg config.AuthConfig) Authenticator {
	if cfg.Type == "static" {
		return NewStaticTokenAuth(cfg.Tokens)
	}
	return openAuth{}
}

// requestToken reads the bearer token, falling back to the token query
// parameter (browsers cannot set headers on WebSocket upgrades).
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

type clientKey struct{}

func withClient(ctx context.Context, c *ClientInfo) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// ClientFrom returns the authenticated client stored in ctx.
func ClientFrom(ctx context.Context) *ClientInfo {
	if c, ok := ctx.Value(clientKey{}).(*ClientInfo); ok {
		return c
	}
	return &ClientInfo{Name: "unknown"}
}
