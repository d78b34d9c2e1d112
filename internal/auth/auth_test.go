package auth

import (
	"testing"
	"time"
)

func TestVerify_RoundTrip(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	token, err := v.Sign(&Identity{AccountID: "a-1", Name: "alex"}, time.Minute)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	identity, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if identity.AccountID != "a-1" || identity.Name != "alex" {
		t.Errorf("identity: %+v", identity)
	}
}

func TestVerify_Rejections(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	expired, err := v.Sign(&Identity{AccountID: "a-1"}, -time.Minute)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	foreign, err := NewVerifier([]byte("other-secret")).Sign(&Identity{AccountID: "a-1"}, time.Minute)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	cases := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"expired", expired},
		{"wrong secret", foreign},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(tc.token); err != ErrInvalidToken {
				t.Errorf("Verify(%s) = %v, want ErrInvalidToken", tc.name, err)
			}
		})
	}
}

func TestVerify_MissingAccountClaim(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	token, err := v.Sign(&Identity{}, time.Minute)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if _, err := v.Verify(token); err != ErrInvalidToken {
		t.Errorf("Verify() = %v, want ErrInvalidToken", err)
	}
}
