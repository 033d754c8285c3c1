// Cadence Realtime - Multi-Tenant Sales Engagement Notification Service
// Copyright 2026 Cadence CRM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadencecrm/realtime

// Package auth verifies the HS256 JWTs issued by the main CRM API.
// The realtime service never issues tokens; it only validates them and
// extracts the user and tenant identity that scope a connection.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the verified principal behind a connection.
type Identity struct {
	UserID   int64
	TenantID uuid.UUID
}

// Claims is the token payload shared with the CRM API. TenantID is the
// tenant UUID; Subject carries the numeric user id.
type Claims struct {
	TenantID string `json:"tenant_id"`
	UserID   int64  `json:"user_id"`
	jwt.RegisteredClaims
}

var (
	ErrTokenInvalid  = errors.New("auth: token invalid")
	ErrClaimsInvalid = errors.New("auth: token claims invalid")
)

// Verifier validates HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a verifier. The secret must match the CRM API's
// signing secret; minimum length is enforced at config load.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: jwt secret is required but was empty")
	}
	return &Verifier{
		secret: []byte(secret),
		// Pinning the accepted algorithm rejects alg-confusion tokens
		// before signature verification.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify validates a token string and extracts the identity. Expired,
// tampered and malformed tokens all return ErrTokenInvalid; tokens
// that verify but lack a usable user or tenant return ErrClaimsInvalid.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	token, err := v.parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrTokenInvalid
	}

	if claims.UserID <= 0 {
		return Identity{}, fmt.Errorf("%w: missing user id", ErrClaimsInvalid)
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad tenant id: %w", ErrClaimsInvalid, err)
	}

	return Identity{UserID: claims.UserID, TenantID: tenantID}, nil
}

// Sign issues a token for an identity. Production tokens come from the
// CRM API; this exists for tooling and tests.
func (v *Verifier) Sign(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		TenantID: id.TenantID.String(),
		UserID:   id.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", id.UserID),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
