// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package llamacppsrv_test

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/poly-run/llmd/llamacpp"
	"github.com/poly-run/llmd/llamacpp/llamacppsrv"
	"github.com/poly-run/llmd/modeldownload"
)

func findFreePort() int {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		panic(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// startServer starts a server with Qwen2 0.5B in Q2_K quantization.
func startServer(ctx context.Context) (*llamacppsrv.Server, error) {
	cache, err := filepath.Abs("tmp")
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(cache, 0o755); err != nil {
		return nil, err
	}
	// It's a bit inefficient to download from github every single time.
	exe, err := llamacppsrv.DownloadRelease(ctx, cache, llamacppsrv.BuildNumber)
	if err != nil {
		return nil, err
	}
	// A really small model.
	ref := modeldownload.Ref{Author: "Qwen", Repo: "Qwen2-0.5B-Instruct-GGUF", Filename: "qwen2-0_5b-instruct-q2_k.gguf"}
	modelPath, err := modeldownload.EnsureFile(ctx, cache, ref)
	if err != nil {
		return nil, err
	}
	l, err := os.Create(filepath.Join(cache, "llama-server.log"))
	if err != nil {
		return nil, err
	}
	defer l.Close()
	port := ":" + strconv.Itoa(findFreePort())
	return llamacppsrv.NewServer(ctx, exe, modelPath, l, port, 0, nil)
}

func Example() {
	ctx := context.Background()
	srv, err := startServer(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer srv.Close()
	c, err := llamacpp.New(srv.URL())
	if err != nil {
		log.Fatal(err)
	}
	status, err := c.GetHealth(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Status: %s\n", status)
	// Output: Status: ok
}
