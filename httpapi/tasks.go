// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package httpapi

import (
	"io"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/poly-run/llmd/session"
)

func (s *Server) listTasksHandler(c *gin.Context) {
	names := make([]string, 0, len(s.backend.Config.Tasks))
	for name := range s.backend.Config.Tasks {
		names = append(names, name)
	}
	c.JSON(http.StatusOK, tasksResponse{Tasks: names})
}

func (s *Server) taskStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) getCompletionHandler(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	s.completionHandler(c, req.Prompt)
}

func (s *Server) postCompletionHandler(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	s.completionHandler(c, req.Prompt)
}

func (s *Server) completionHandler(c *gin.Context, prompt string) {
	sess, err := session.Start(c.Request.Context(), s.backend, c.Param("task"))
	if err != nil {
		writeError(c, err)
		return
	}
	defer sess.Close()

	var text string
	_, err = sess.Complete(c.Request.Context(), prompt, func(e session.Event) session.Feedback {
		text += e.Text
		return session.Continue
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, generateResponse{Text: text})
}

// liveHandler streams decoded pieces as server-sent events, halting
// generation as soon as the client disconnects.
func (s *Server) liveHandler(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	sess, err := session.Start(c.Request.Context(), s.backend, c.Param("task"))
	if err != nil {
		writeError(c, err)
		return
	}
	defer sess.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		_, err := sess.Complete(ctx, req.Prompt, func(e session.Event) session.Feedback {
			select {
			case <-ctx.Done():
				return session.Halt
			default:
			}
			c.SSEvent("token", e.Text)
			c.Writer.Flush()
			return session.Continue
		})
		if err != nil {
			writeError(c, err)
		}
		return false
	})
}

// chatHandler bridges a WebSocket connection to a blocking Session: each
// received text frame is a prompt, each decoded piece is echoed back as a
// text frame, and an empty frame marks the end of one completion cycle.
func (s *Server) chatHandler(c *gin.Context) {
	sess, err := session.Start(c.Request.Context(), s.backend, c.Param("task"))
	if err != nil {
		writeError(c, err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sess.Close()
		return
	}
	defer sess.Close()
	defer conn.Close()

	ctx := c.Request.Context()
	var closed atomic.Bool

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		prompt := string(msg)

		_, err = sess.Complete(ctx, prompt, func(e session.Event) session.Feedback {
			if closed.Load() {
				return session.Halt
			}
			if writeErr := conn.WriteMessage(websocket.TextMessage, []byte(e.Text)); writeErr != nil {
				closed.Store(true)
				return session.Halt
			}
			return session.Continue
		})
		if closed.Load() {
			return
		}
		if err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(err.Error()))
			return
		}
		if writeErr := conn.WriteMessage(websocket.TextMessage, []byte("")); writeErr != nil {
			return
		}
	}
}
