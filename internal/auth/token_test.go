package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"pingin/api/internal/rbac"
)

func issue(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	p := Principal{UserID: "user-1", Name: "Avery", Role: rbac.RoleConsultant}
	token := issue(t, secret, NewClaims(p, "jti-1", time.Now(), time.Hour))

	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if got := claims.Principal(); got != p {
		t.Fatalf("unexpected principal: %+v", got)
	}
}

func TestParseTokenRejects(t *testing.T) {
	secret := []byte("secret")
	valid := Claims{Sub: "user-1", Name: "Avery", Role: "student", JTI: "jti-1", Exp: time.Now().Add(time.Hour).Unix()}

	expired := valid
	expired.Exp = time.Now().Add(-time.Minute).Unix()
	badRole := valid
	badRole.Role = "admin"

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"expired", issue(t, secret, expired), ErrExpiredToken},
		{"unknown role", issue(t, secret, badRole), ErrInvalidToken},
		{"wrong secret", issue(t, []byte("other"), valid), ErrInvalidToken},
		{"no signature", strings.Split(issue(t, secret, valid), ".")[0], ErrInvalidToken},
		{"extra segment", issue(t, secret, valid) + ".x", ErrInvalidToken},
		{"garbage", "not-a-token", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(secret, tt.token); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def", "abc.def", true},
		{"bearer  abc.def ", "abc.def", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := BearerToken(tt.header)
			if tt.ok != (err == nil) || got != tt.want {
				t.Fatalf("BearerToken(%q) = %q, %v", tt.header, got, err)
			}
		})
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("refresh") != HashToken("refresh") || HashToken("a") == HashToken("b") {
		t.Fatal("HashToken must be deterministic and distinguish inputs")
	}
	if len(HashToken("refresh")) != 64 {
		t.Fatal("expected hex sha256")
	}
}
