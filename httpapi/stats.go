// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poly-run/llmd/backend"
)

type statsResponse struct {
	Tasks map[string]backend.TaskStats `json:"tasks"`
}

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, statsResponse{Tasks: s.backend.Stats.Snapshot()})
}
