// Gatewarden - Request Authorization and Account Security Engine
// Copyright 2026 The Gatewarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gatewarden/gatewarden

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gatewarden/gatewarden/internal/account"
)

// Claims is the token payload. UserID and RevokedCount are always present;
// the remaining fields are included per the configured claim list.
type Claims struct {
	UserID       string `json:"uid"`
	RevokedCount int    `json:"rvc"`
	Role         string `json:"role,omitempty"`
	Identifier   string `json:"ident,omitempty"`
	jwt.RegisteredClaims
}

// TokenConfig holds token issuance settings.
type TokenConfig struct {
	// Secret signs tokens with HMAC-SHA256. Minimum 32 bytes.
	Secret string

	// TTL is the token lifetime.
	TTL time.Duration

	// ClaimFields selects the optional claims embedded in tokens.
	// Recognized values: "role", "identifier". The identity field and the
	// revocation counter are always embedded.
	ClaimFields []string
}

// TokenManager signs and verifies session tokens. It implements the token
// codec contract the engine consumes; deployments may substitute their own.
type TokenManager struct {
	secret    []byte
	ttl       time.Duration
	withRole  bool
	withIdent bool
	clock     account.Clock
}

// NewTokenManager creates a TokenManager.
func NewTokenManager(cfg TokenConfig, clock account.Clock) (*TokenManager, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("auth: token secret must be at least 32 characters")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if clock == nil {
		clock = account.RealClock{}
	}

	m := &TokenManager{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		clock:  clock,
	}
	for _, f := range cfg.ClaimFields {
		switch f {
		case "role":
			m.withRole = true
		case "identifier":
			m.withIdent = true
		default:
			return nil, fmt.Errorf("auth: unknown claim field %q", f)
		}
	}
	return m, nil
}

// TTL returns the configured token lifetime.
func (m *TokenManager) TTL() time.Duration { return m.ttl }

// Sign issues a token for the account, embedding the current revocation
// counter so outstanding tokens die when the counter is bumped.
func (m *TokenManager) Sign(a *account.Account) (string, error) {
	now := m.clock.Now()
	claims := &Claims{
		UserID:       a.ID,
		RevokedCount: a.RevokedCount,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if m.withRole {
		claims.Role = a.Role
	}
	if m.withIdent {
		claims.Identifier = a.Identifier
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (m *TokenManager) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("verify token: invalid token")
	}
	return claims, nil
}
