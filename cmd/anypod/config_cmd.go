// SPDX-License-Identifier: MIT

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/daemon"
)

// runConfigCLI implements `anypod config check`: load and validate the
// feed configuration without starting the daemon.
func runConfigCLI(args []string) int {
	if len(args) == 0 || args[0] != "check" {
		fmt.Fprintln(os.Stderr, "usage: anypod config check [-file path]")
		return daemon.ExitFailure
	}

	fs := flag.NewFlagSet("config check", flag.ExitOnError)
	file := fs.String("file", config.ParseString("CONFIG_FILE", "/config/feeds.yaml"), "config file to validate")
	if err := fs.Parse(args[1:]); err != nil {
		return daemon.ExitFailure
	}

	cfg, err := config.Load(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return daemon.ExitConfig
	}

	enabled := 0
	for _, feed := range cfg.Feeds {
		if feed.Enabled {
			enabled++
		}
	}
	fmt.Printf("config ok: %d feeds (%d enabled)\n", len(cfg.Feeds), enabled)
	return daemon.ExitOK
}
