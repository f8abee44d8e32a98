// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package httpapi exposes a Backend over HTTP: task completion, live
// streaming and chat, model embedding/tokenization, memory ingest/recall,
// and per-task statistics, behind bearer-token or JWT authentication.
package httpapi

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Config configures the HTTP server's auth and networking behavior.
type Config struct {
	// Public allows unauthenticated requests through with anonymous claims
	// (no task/model/memory restriction) when no token is presented at all.
	Public bool `yaml:"public,omitempty"`

	// AllowedKeyHashes are bcrypt hashes of pre-shared API keys; a bearer
	// token or api_key query value matching one of these authenticates as
	// that key's holder with unrestricted claims.
	AllowedKeyHashes []string `yaml:"allowed_key_hashes,omitempty"`

	// JWTSecret, if set, lets a presented token be verified as an HS256 JWT
	// whose claims may scope tasks/models/memories.
	JWTSecret string `yaml:"jwt_secret,omitempty"`

	// CORSAllowedOrigins, when non-empty, enables CORS with these origins.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins,omitempty"`

	// IngestQueueSize bounds the async memory-ingest worker queue.
	IngestQueueSize int `yaml:"ingest_queue_size,omitempty"`

	_ struct{}
}

func (c *Config) setDefaults() {
	if c.IngestQueueSize == 0 {
		c.IngestQueueSize = 32
	}
}

// HashKey bcrypt-hashes an API key for storage in AllowedKeyHashes.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("httpapi: hash key: %w", err)
	}
	return string(h), nil
}

func (c *Config) matchesAllowedKey(token string) bool {
	for _, h := range c.AllowedKeyHashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(token)) == nil {
			return true
		}
	}
	return false
}
