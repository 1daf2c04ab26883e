package auth

import (
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/config"
)

// testAuthenticator returns an Authenticator with one operator and one
// admin key, and the raw keys.
func testAuthenticator(t *testing.T) (a *Authenticator, operatorKey, adminKey string) {
	t.Helper()

	operatorKey, adminKey = "operator-key", "admin-key"
	opHash, err := HashKey(operatorKey)
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	adHash, err := HashKey(adminKey)
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}

	a, err = NewAuthenticator(config.APIAuthConfig{
		Enabled:   true,
		JWTSecret: testSecret,
		TokenTTL:  5,
		Keys: []config.APIKeyConfig{
			{Name: "bench", Hash: opHash, Role: "operator"},
			{Name: "lab-admin", Hash: adHash, Role: "admin"},
		},
	})
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}
	return a, operatorKey, adminKey
}

func TestAuthenticator_Exchange(t *testing.T) {
	a, operatorKey, adminKey := testAuthenticator(t)

	tests := []struct {
		name        string
		key         string
		wantSubject string
		wantRole    Role
		wantErr     error
	}{
		{"operator", operatorKey, "bench", RoleOperator, nil},
		{"admin", adminKey, "lab-admin", RoleAdmin, nil},
		{"unknown key", "guess", "", "", ErrInvalidKey},
		{"empty key", "", "", "", ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, role, _, err := a.Exchange(tt.key)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Exchange() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Exchange() error = %v", err)
			}
			if role != tt.wantRole {
				t.Errorf("role = %s, want %s", role, tt.wantRole)
			}
			claims, err := a.Verify(token)
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if claims.Subject != tt.wantSubject || claims.Role != tt.wantRole {
				t.Errorf("claims = %+v", claims)
			}
		})
	}
}

func TestNewAuthenticator_RejectsBadKeys(t *testing.T) {
	hash, err := HashKey("k")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	tests := []struct {
		name string
		key  config.APIKeyConfig
	}{
		{"unknown role", config.APIKeyConfig{Name: "k", Hash: hash, Role: "owner"}},
		{"malformed hash", config.APIKeyConfig{Name: "k", Hash: "plaintext", Role: "viewer"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAuthenticator(config.APIAuthConfig{JWTSecret: testSecret, Keys: []config.APIKeyConfig{tt.key}})
			if err == nil {
				t.Error("NewAuthenticator() error = nil")
			}
		})
	}
}
