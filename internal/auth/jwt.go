// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tomtom215/aegis/internal/config"
)

// ErrNoSecret is returned when token verification is requested without a
// configured secret.
var ErrNoSecret = errors.New("auth: JWT secret is not configured")

// Claims are the identity claims established upstream by the application's
// authentication layer. Aegis only reads them.
type Claims struct {
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sid,omitempty"`
	TenantID  string `json:"tenant,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// TokenManager verifies HS256 bearer tokens. It can also mint tokens, which
// tests and the operator CLI use to obtain admin credentials.
type TokenManager struct {
	secret []byte
	issuer string
}

// NewTokenManager creates a manager from the security configuration.
//
//	tokens, err := auth.NewTokenManager(cfg.Security)
//	if err != nil {
//	    return fmt.Errorf("token manager: %w", err)
//	}
func NewTokenManager(cfg config.SecurityConfig) (*TokenManager, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrNoSecret
	}
	return &TokenManager{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.JWTIssuer,
	}, nil
}

// GenerateToken signs a token for subject with the given role and lifetime.
func (m *TokenManager) GenerateToken(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature, algorithm, expiry and (when configured)
// issuer, and returns the claims.
func (m *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
