package infrastructure

import (
	"os"
	"strings"
)

// TokenStore resolves the access token from a file, falling back to an
// environment variable. The file is read on every call so a rotated token is
// picked up without a restart.
type TokenStore struct {
	path   string
	envVar string
}

// NewTokenStore creates a token store
func NewTokenStore(path, envVar string) *TokenStore {
	return &TokenStore{path: path, envVar: envVar}
}

// ResolveAccessToken returns the current token, if any
func (s *TokenStore) ResolveAccessToken() (string, bool) {
	if s.path != "" {
		if data, err := os.ReadFile(s.path); err == nil {
			if token := strings.TrimSpace(string(data)); token != "" {
				return token, true
			}
		}
	}
	if s.envVar != "" {
		if token := strings.TrimSpace(os.Getenv(s.envVar)); token != "" {
			return token, true
		}
	}
	return "", false
}

// Save writes the token file readable only by the owner
func (s *TokenStore) Save(token string) error {
	return os.WriteFile(s.path, []byte(strings.TrimSpace(token)+"\n"), 0600)
}
