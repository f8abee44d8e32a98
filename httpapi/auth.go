// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const claimsKey = "httpapi.claims"

// authenticate extracts a bearer token or api_key query parameter, resolves
// it to Claims (static allow-list first, then JWT, then anonymous when the
// server is public), and stashes the result in gin's context. It aborts
// with 401 when no acceptable token is found.
func (s *Server) authenticate(c *gin.Context) {
	token := bearerToken(c.Request)
	if token == "" {
		token = c.Query("api_key")
	}

	if token == "" {
		if !s.cfg.Public {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("no auth token provided and not a public server"))
			return
		}
		c.Set(claimsKey, anonymousClaims(""))
		c.Next()
		return
	}

	if s.cfg.matchesAllowedKey(token) {
		c.Set(claimsKey, anonymousClaims(token))
		c.Next()
		return
	}

	if s.cfg.JWTSecret != "" {
		claims, err := parseToken(s.cfg.JWTSecret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("invalid JWT token"))
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
		return
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("no acceptable auth token provided"))
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

func currentClaims(c *gin.Context) Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return anonymousClaims("")
	}
	return v.(Claims)
}

// authorizeTask rejects the request when the caller's claims restrict
// tasks and the path's :task is not among them.
func authorizeTask(c *gin.Context) {
	if claims := currentClaims(c); !allows(claims.Tasks, c.Param("task")) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("task not allowed for this token"))
		return
	}
	c.Next()
}

// authorizeModel rejects the request when the caller's claims restrict
// models and the path's :model is not among them.
func authorizeModel(c *gin.Context) {
	if claims := currentClaims(c); !allows(claims.Models, c.Param("model")) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("model not allowed for this token"))
		return
	}
	c.Next()
}

// authorizeMemory rejects the request when the caller's claims restrict
// memories and the path's :memory is not among them.
func authorizeMemory(c *gin.Context) {
	if claims := currentClaims(c); !allows(claims.Memories, c.Param("memory")) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("memory not allowed for this token"))
		return
	}
	c.Next()
}

func errorBody(msg string) gin.H { return gin.H{"error": msg} }
