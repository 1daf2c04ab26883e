package auth

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "test-secret-key-for-jwt-signing-0123"

func TestIssuer_IssueAndParse(t *testing.T) {
	iss := NewIssuer(testSecret, time.Minute)

	token, expires, err := iss.Issue("bench-operator", RoleOperator)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if time.Until(expires) > time.Minute || time.Until(expires) < 50*time.Second {
		t.Errorf("expires in %v, want ~1m", time.Until(expires))
	}

	claims, err := iss.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Subject != "bench-operator" || claims.Role != RoleOperator || claims.ID == "" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestIssuer_ParseRejects(t *testing.T) {
	iss := NewIssuer(testSecret, time.Minute)
	valid, _, err := iss.Issue("k", RoleViewer)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	expiredIss := NewIssuer(testSecret, time.Minute)
	expiredIss.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _, err := expiredIss.Issue("k", RoleViewer)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	badRole, _, err := iss.Issue("k", Role("root"))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	noSubject, _, err := iss.Issue("", RoleViewer)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tests := []struct {
		name   string
		issuer *Issuer
		token  string
	}{
		{"wrong secret", NewIssuer("another-secret-another-secret-000", time.Minute), valid},
		{"expired", iss, expired},
		{"unknown role", iss, badRole},
		{"missing subject", iss, noSubject},
		{"garbage", iss, "not-a-jwt"},
		{"empty", iss, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.issuer.Parse(tt.token); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Parse() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestNewIssuer_DefaultTTL(t *testing.T) {
	iss := NewIssuer(testSecret, 0)
	_, expires, err := iss.Issue("k", RoleViewer)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if d := time.Until(expires); d < defaultTokenTTL-time.Minute || d > defaultTokenTTL {
		t.Errorf("default TTL = %v, want ~%v", d, defaultTokenTTL)
	}
}
