// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command llmd-token mints a JWT for use against a llmd server configured
// with a jwt_secret, optionally scoped to specific tasks, models and
// memories.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/poly-run/llmd/httpapi"
)

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mainImpl() error {
	secret := flag.String("secret", "", "jwt_secret configured on the llmd server (required)")
	subject := flag.String("subject", "llmd-token", "subject claim identifying the token holder")
	ttl := flag.Duration("ttl", 0, "token lifetime, e.g. 24h (0 means no expiry)")
	tasks := flag.String("tasks", "", "comma-separated list of allowed task names (empty means unrestricted)")
	models := flag.String("models", "", "comma-separated list of allowed model names (empty means unrestricted)")
	memories := flag.String("memories", "", "comma-separated list of allowed memory names (empty means unrestricted)")
	flag.Parse()
	if *secret == "" {
		return fmt.Errorf("-secret flag is required")
	}

	claims := httpapi.Claims{
		Tasks:    splitCSV(*tasks),
		Models:   splitCSV(*models),
		Memories: splitCSV(*memories),
	}
	claims.Subject = *subject

	token, err := httpapi.MintToken(*secret, claims, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "llmd-token: %s\n", err)
		os.Exit(1)
	}
}
