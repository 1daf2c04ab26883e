package auth

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/config"
)

type apiKey struct {
	name string
	hash string
	role Role
}

// Authenticator exchanges configured API keys for access tokens.
//
// Thread Safety: immutable after construction.
type Authenticator struct {
	keys   []apiKey
	issuer *Issuer
}

// NewAuthenticator builds an Authenticator from the API auth settings.
// Every key must name a known role.
func NewAuthenticator(cfg config.APIAuthConfig) (*Authenticator, error) {
	a := &Authenticator{
		issuer: NewIssuer(cfg.JWTSecret, time.Duration(cfg.TokenTTL)*time.Minute),
	}
	for _, k := range cfg.Keys {
		role, err := ParseRole(k.Role)
		if err != nil {
			return nil, fmt.Errorf("api key %q: %w", k.Name, err)
		}
		if _, err := parsePHC(k.Hash); err != nil {
			return nil, fmt.Errorf("api key %q: %w", k.Name, err)
		}
		a.keys = append(a.keys, apiKey{name: k.Name, hash: k.Hash, role: role})
	}
	return a, nil
}

// Exchange checks key against every configured hash and, on a match,
// issues a token for that key's name and role.
func (a *Authenticator) Exchange(key string) (token string, role Role, expires time.Time, err error) {
	if key == "" {
		return "", "", time.Time{}, ErrInvalidKey
	}
	for _, k := range a.keys {
		ok, verr := VerifyKey(key, k.hash)
		if verr != nil || !ok {
			continue
		}
		token, expires, err = a.issuer.Issue(k.name, k.role)
		if err != nil {
			return "", "", time.Time{}, err
		}
		return token, k.role, expires, nil
	}
	return "", "", time.Time{}, ErrInvalidKey
}

// Verify parses a bearer token.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	return a.issuer.Parse(token)
}
