package gateway

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

// RoleAdmin may trigger operational RPCs such as workers.sync.
const RoleAdmin = "admin"

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name  string
	Roles []string
}

// HasRole reports whether the client holds role. A token configured without
// roles has every role.
func (c *ClientInfo) HasRole(role string) bool {
	return len(c.Roles) == 0 || slices.Contains(c.Roles, role)
}

// Authenticator validates incoming gateway connections.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

type authEntry struct {
	token []byte
	info  ClientInfo
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from the configured tokens.
func NewStaticTokenAuth(tokens []config.TokenConfig) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, 0, len(tokens))}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		a.entries = append(a.entries, authEntry{
			token: []byte(t.Token),
			info:  ClientInfo{Name: t.Name, Roles: slices.Clone(t.Roles)},
		})
	}
	return a
}

// Authenticate returns a copy of the client info if the token is valid.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			info := e.info
			return &info, nil
		}
	}
	return nil, domain.ErrGatewayAuthFailed
}

// OpenAuth accepts every connection. Used when gateway auth is disabled.
type OpenAuth struct{}

// Authenticate always succeeds.
func (OpenAuth) Authenticate(string) (*ClientInfo, error) {
	return &ClientInfo{Name: "anonymous"}, nil
}

// NewAuthenticator picks the authenticator for cfg.
func NewAuthenticator(cfg config.AuthConfig) Authenticator {
	if cfg.Type == "static" {
		return NewStaticTokenAuth(cfg.Tokens)
	}
	return OpenAuth{}
}

// tokenFromRequest reads the token from the "token" query parameter or a
// Bearer Authorization header.
func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if t, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return t
	}
	return ""
}
