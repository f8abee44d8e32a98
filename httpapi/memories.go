// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) listMemoriesHandler(c *gin.Context) {
	names := make([]string, 0, len(s.backend.Config.Memories))
	for name := range s.backend.Config.Memories {
		names = append(names, name)
	}
	c.JSON(http.StatusOK, memoriesResponse{Memories: names})
}

// ingestMemoryHandler stores the plaintext request body into the named
// memory. ?wait=true embeds and stores inline before responding; the
// default enqueues onto the background ingest worker and returns 202
// immediately.
func (s *Server) ingestMemoryHandler(c *gin.Context) {
	name := c.Param("memory")
	if _, ok := s.backend.Config.Memories[name]; !ok {
		c.JSON(http.StatusNotFound, errorBody("memory not found: "+name))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	text := string(body)
	if text == "" {
		c.JSON(http.StatusBadRequest, errorBody("empty document"))
		return
	}

	if c.Query("wait") == "true" {
		if err := s.backend.Memorize(c.Request.Context(), name, text); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusOK)
		return
	}

	select {
	case s.ingestCh <- ingestItem{memory: name, text: text}:
		c.Status(http.StatusAccepted)
	default:
		c.JSON(http.StatusServiceUnavailable, errorBody("ingest queue full"))
	}
}

func (s *Server) getRecallHandler(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	s.recallHandler(c, req.Prompt)
}

func (s *Server) postRecallHandler(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	s.recallHandler(c, req.Prompt)
}

func (s *Server) recallHandler(c *gin.Context, prompt string) {
	const defaultTopN = 4
	chunks, err := s.backend.Recall(c.Request.Context(), c.Param("memory"), prompt, defaultTopN)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recallResponse{Chunks: chunks})
}
