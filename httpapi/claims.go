// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package httpapi

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the caller and optionally restricts which tasks,
// models and memories they may reach. A nil list means unrestricted; a
// non-nil, possibly-empty list means "only these names".
type Claims struct {
	jwt.RegisteredClaims

	Tasks    []string `json:"tasks,omitempty"`
	Models   []string `json:"models,omitempty"`
	Memories []string `json:"memories,omitempty"`
}

func anonymousClaims(sub string) Claims {
	return Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: sub}}
}

// allows reports whether names is unrestricted or contains name.
func allows(names []string, name string) bool {
	if names == nil {
		return true
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// MintToken signs a JWT encoding claims with secret, expiring after ttl (no
// expiry when ttl is zero). Used by cmd/llmd-token.
func MintToken(secret string, claims Claims, ttl time.Duration) (string, error) {
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("httpapi: mint token: %w", err)
	}
	return s, nil
}

// parseToken verifies token as an HS256 JWT signed with secret.
func parseToken(secret, token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("httpapi: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Claims{}, err
	}
	if !parsed.Valid {
		return Claims{}, fmt.Errorf("httpapi: invalid token")
	}
	return claims, nil
}
