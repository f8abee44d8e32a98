// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/poly-run/llmd/backend"
)

// Server wires a backend.Backend into a gin router, authenticating every
// request and feeding memory ingest requests through a background worker
// so PUT /v1/memory/:memory can return immediately.
type Server struct {
	backend *backend.Backend
	cfg     Config

	ingestCh chan ingestItem
	done     chan struct{}
}

type ingestItem struct {
	memory string
	text   string
}

// New builds a Server over b and starts its ingest worker. Call Close to
// stop the worker once the server is no longer serving requests.
func New(b *backend.Backend, cfg Config) *Server {
	cfg.setDefaults()
	s := &Server{
		backend:  b,
		cfg:      cfg,
		ingestCh: make(chan ingestItem, cfg.IngestQueueSize),
		done:     make(chan struct{}),
	}
	go s.runIngestWorker()
	return s
}

func (s *Server) runIngestWorker() {
	defer close(s.done)
	slog.Info("httpapi", "msg", "starting ingest worker")
	for item := range s.ingestCh {
		if err := s.backend.Memorize(context.Background(), item.memory, item.text); err != nil {
			slog.Error("httpapi", "msg", "error memorizing", "memory", item.memory, "err", err)
		}
	}
	slog.Info("httpapi", "msg", "ending ingest worker")
}

// Close stops accepting new ingest items and waits for the worker to drain.
func (s *Server) Close() error {
	close(s.ingestCh)
	<-s.done
	return nil
}

// Router builds the gin engine exposing every route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if len(s.cfg.CORSAllowedOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = s.cfg.CORSAllowedOrigins
		corsCfg.AllowHeaders = []string{"Authorization", "Content-Type"}
		r.Use(cors.New(corsCfg))
	}

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, statusResponse{Status: "ok"})
	})

	v1 := r.Group("/v1", s.authenticate)

	v1.GET("/stats", s.statsHandler)

	tasks := v1.Group("/task")
	tasks.GET("", s.listTasksHandler)
	taskScoped := tasks.Group("/:task", authorizeTask)
	taskScoped.GET("/status", s.taskStatusHandler)
	taskScoped.GET("/completion", s.getCompletionHandler)
	taskScoped.POST("/completion", s.postCompletionHandler)
	taskScoped.GET("/live", s.liveHandler)
	taskScoped.GET("/chat", s.chatHandler)

	models := v1.Group("/model")
	models.GET("", s.listModelsHandler)
	modelScoped := models.Group("/:model", authorizeModel)
	modelScoped.GET("/embedding", s.getEmbeddingHandler)
	modelScoped.POST("/embedding", s.postEmbeddingHandler)
	modelScoped.GET("/tokenization", s.getTokenizationHandler)
	modelScoped.POST("/tokenization", s.postTokenizationHandler)

	memories := v1.Group("/memory")
	memories.GET("", s.listMemoriesHandler)
	memoryScoped := memories.Group("/:memory", authorizeMemory)
	memoryScoped.PUT("", s.ingestMemoryHandler)
	memoryScoped.GET("", s.getRecallHandler)
	memoryScoped.POST("", s.postRecallHandler)

	return r
}

// writeError maps a core error to its HTTP status, or 500 for anything
// that does not implement backend.StatusCoder.
func writeError(c *gin.Context, err error) {
	var coder backend.StatusCoder
	if errors.As(err, &coder) {
		c.JSON(coder.StatusCode(), gin.H{"error": coder.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
