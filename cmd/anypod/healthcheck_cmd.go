// SPDX-License-Identifier: MIT

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/thurstonsan/anypod/internal/config"
)

// runHealthcheckCLI probes the running daemon's health endpoint, for
// use as a container HEALTHCHECK. Exit 0 means healthy.
func runHealthcheckCLI(args []string) int {
	fs := flag.NewFlagSet("healthcheck", flag.ExitOnError)
	port := fs.Int("port", config.ParseInt("SERVER_PORT", 8024), "server port to check")
	timeout := fs.Duration("timeout", 5*time.Second, "check timeout")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	client := http.Client{Timeout: *timeout}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/api/health", *port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %s\n", resp.Status)
		return 1
	}
	fmt.Println("healthy")
	return 0
}
