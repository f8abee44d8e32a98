// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poly-run/llmd/backend"
)

func (s *Server) listModelsHandler(c *gin.Context) {
	names := make([]string, 0, len(s.backend.Config.Models))
	for name := range s.backend.Config.Models {
		names = append(names, name)
	}
	c.JSON(http.StatusOK, modelsResponse{Models: names})
}

func (s *Server) getEmbeddingHandler(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	s.embeddingHandler(c, req.Prompt)
}

func (s *Server) postEmbeddingHandler(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	s.embeddingHandler(c, req.Prompt)
}

func (s *Server) embeddingHandler(c *gin.Context, prompt string) {
	emb, err := s.backend.Embedding(c.Request.Context(), c.Param("model"), prompt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, embeddingResponse{Embedding: emb})
}

func (s *Server) getTokenizationHandler(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	s.tokenizationHandler(c, req.Prompt)
}

func (s *Server) postTokenizationHandler(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	s.tokenizationHandler(c, req.Prompt)
}

func (s *Server) tokenizationHandler(c *gin.Context, prompt string) {
	m, err := s.backend.Model(c.Param("model"))
	if err != nil {
		writeError(c, err)
		return
	}
	ids, err := m.Tokenizer().Tokenize(c.Request.Context(), prompt, true)
	if err != nil {
		writeError(c, &backend.TokenizationError{Err: err})
		return
	}
	c.JSON(http.StatusOK, tokenizationResponse{Tokens: ids})
}
