// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package modeldownload fetches and caches GGUF model files from the
// Hugging Face Hub, the way cmd/llama-serve needs them staged on disk
// before handing them to llama-server.
package modeldownload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
)

// Ref identifies a file within a Hugging Face Hub repository.
type Ref struct {
	Author   string
	Repo     string
	Filename string
	Revision string // defaults to "main"

	_ struct{}
}

// ParseRef parses "author/repo/filename" or "author/repo/filename@revision"
// into a Ref.
func ParseRef(s string) (Ref, error) {
	rev := "main"
	if i := strings.LastIndex(s, "@"); i >= 0 {
		rev = s[i+1:]
		s = s[:i]
	}
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 {
		return Ref{}, fmt.Errorf("modeldownload: invalid model ref %q, want author/repo/filename", s)
	}
	return Ref{Author: parts[0], Repo: parts[1], Filename: parts[2], Revision: rev}, nil
}

func (r Ref) url() string {
	rev := r.Revision
	if rev == "" {
		rev = "main"
	}
	return fmt.Sprintf("https://huggingface.co/%s/%s/resolve/%s/%s", r.Author, r.Repo, rev, r.Filename)
}

// EnsureFile returns the local cache path for ref's file, downloading it
// into cacheDir first if not already present. A progress bar is written
// to os.Stderr while downloading; set HF_TOKEN in the environment to
// authenticate against gated repositories.
func EnsureFile(ctx context.Context, cacheDir string, ref Ref) (string, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("modeldownload: creating cache dir: %w", err)
	}
	dst := filepath.Join(cacheDir, ref.Author+"_"+ref.Repo+"_"+filepath.Base(ref.Filename))
	if fi, err := os.Stat(dst); err == nil && fi.Size() > 0 {
		return dst, nil
	}
	if err := downloadFile(ctx, ref.url(), dst); err != nil {
		return "", fmt.Errorf("modeldownload: downloading %s/%s/%s: %w", ref.Author, ref.Repo, ref.Filename, err)
	}
	return dst, nil
}

func downloadFile(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	if token := os.Getenv("HF_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected http status code %d", resp.StatusCode)
	}

	tmp := dst + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	bar := progressbar.DefaultBytes(resp.ContentLength, "downloading "+filepath.Base(dst))
	_, err = io.Copy(io.MultiWriter(f, bar), resp.Body)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
