// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	return v
}

func TestNewVerifierEmptySecret(t *testing.T) {
	if _, err := NewVerifier(""); err == nil {
		t.Fatal("NewVerifier(\"\") error = nil, want error")
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	v := newTestVerifier(t)
	want := Identity{UserID: 42, TenantID: uuid.New()}

	token, err := v.Sign(want, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	got, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != want {
		t.Errorf("Verify() = %+v, want %+v", got, want)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Sign(Identity{UserID: 1, TenantID: uuid.New()}, -time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if _, err := v.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify(expired) error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	v := newTestVerifier(t)
	other, err := NewVerifier("ffffffffffffffffffffffffffffffff")
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	token, err := other.Sign(Identity{UserID: 1, TenantID: uuid.New()}, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if _, err := v.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify(wrong secret) error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyMalformedToken(t *testing.T) {
	v := newTestVerifier(t)
	if _, err := v.Verify("not.a.token"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify(malformed) error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyRejectsUnsignedAlg(t *testing.T) {
	v := newTestVerifier(t)

	claims := &Claims{
		TenantID: uuid.NewString(),
		UserID:   1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := v.Verify(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify(alg=none) error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyBadClaims(t *testing.T) {
	v := newTestVerifier(t)

	sign := func(claims *Claims) string {
		t.Helper()
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("SignedString() error = %v", err)
		}
		return signed
	}

	tests := []struct {
		name   string
		claims *Claims
	}{
		{"missing user id", &Claims{TenantID: uuid.NewString()}},
		{"negative user id", &Claims{TenantID: uuid.NewString(), UserID: -1}},
		{"missing tenant id", &Claims{UserID: 5}},
		{"garbage tenant id", &Claims{TenantID: "not-a-uuid", UserID: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(sign(tt.claims)); !errors.Is(err, ErrClaimsInvalid) {
				t.Errorf("Verify() error = %v, want ErrClaimsInvalid", err)
			}
		})
	}
}
