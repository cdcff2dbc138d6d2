package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("acc-1", "sess-1", RoleOperator, "secret", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := Parse(token, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.AccountKey() != "acc-1" || claims.SessionID != "sess-1" || claims.Role != RoleOperator {
		t.Fatalf("claims = %+v", claims)
	}
	if _, err := ulid.Parse(claims.ID); err != nil {
		t.Fatalf("jti %q is not a ulid: %v", claims.ID, err)
	}
}

func TestNewSessionIDSortable(t *testing.T) {
	a := NewSessionID()
	time.Sleep(2 * time.Millisecond)
	b := NewSessionID()
	if a == b || a > b {
		t.Fatalf("session ids not increasing: %s %s", a, b)
	}
}

func TestParseRejects(t *testing.T) {
	token, _ := GenerateToken("acc-1", "", "", "secret", time.Minute)
	if _, err := Parse(token, "other-secret"); err == nil {
		t.Fatal("expected signature error")
	}

	expired, _ := GenerateToken("acc-1", "", "", "secret", -time.Minute)
	if _, err := Parse(expired, "secret"); err == nil {
		t.Fatal("expected expiry error")
	}

	anonymous, _ := GenerateToken("", "", "", "secret", time.Minute)
	if _, err := Parse(anonymous, "secret"); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for header, want := range cases {
		got, ok := BearerToken(header)
		if got != want || ok != (want != "") {
			t.Fatalf("BearerToken(%q) = %q, %v", header, got, ok)
		}
	}
}
