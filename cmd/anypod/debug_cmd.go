// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/daemon"
	"github.com/thurstonsan/anypod/internal/ytdlp"
)

// runDebugCLI implements `anypod debug ytdlp <url>`: fetch and print
// the parsed metadata for one URL, the same view the pipeline gets.
func runDebugCLI(args []string) int {
	if len(args) < 2 || args[0] != "ytdlp" {
		fmt.Fprintln(os.Stderr, "usage: anypod debug ytdlp <url>")
		return daemon.ExitFailure
	}
	url := args[1]

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := ytdlp.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetcher unavailable: %v\n", err)
		return daemon.ExitDependencies
	}

	opts := ytdlp.Options{CookiesPath: config.ParseString("COOKIES_PATH", "")}
	items, err := client.FetchMetadata(ctx, url, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "metadata fetch failed: %v\n", err)
		return daemon.ExitFailure
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return daemon.ExitFailure
		}
	}
	fmt.Fprintf(os.Stderr, "%d item(s)\n", len(items))
	return daemon.ExitOK
}
