// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command llmd serves schema-biased completions, tokenization, embedding and
// memory endpoints over HTTP, against one or more already-running
// llama-server instances described by a YAML config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poly-run/llmd/backend"
	"github.com/poly-run/llmd/httpapi"
)

func loadConfig(path string) (backend.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return backend.Config{}, fmt.Errorf("llmd: read config: %w", err)
	}
	var cfg backend.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return backend.Config{}, fmt.Errorf("llmd: parse config: %w", err)
	}
	return cfg, nil
}

func loadHTTPConfig(path string) (httpapi.Config, error) {
	if path == "" {
		return httpapi.Config{Public: true}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return httpapi.Config{}, fmt.Errorf("llmd: read auth config: %w", err)
	}
	var cfg httpapi.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return httpapi.Config{}, fmt.Errorf("llmd: parse auth config: %w", err)
	}
	return cfg, nil
}

func mainImpl() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", "", "path to the task/model/memory YAML config (required)")
	authConfigPath := flag.String("auth-config", "", "path to the httpapi auth YAML config (default: public, unauthenticated)")
	addr := flag.String("listen", ":8081", "address to listen on")
	flag.Parse()
	if *configPath == "" {
		return fmt.Errorf("-config flag is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	httpCfg, err := loadHTTPConfig(*authConfigPath)
	if err != nil {
		return err
	}

	b, err := backend.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("llmd: %w", err)
	}

	s := httpapi.New(b, httpCfg)
	defer func() {
		if err := s.Close(); err != nil {
			slog.Error("llmd", "msg", "error closing server", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:    *addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("llmd", "msg", "listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("llmd", "msg", "received signal, shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func main() {
	if err := mainImpl(); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "llmd: %s\n", err)
		}
		os.Exit(1)
	}
}
