// SPDX-License-Identifier: MIT

// Command anypod runs the podcast download daemon. Besides the default
// serve mode it offers container-friendly subcommands:
//
//	anypod healthcheck        probe the running daemon's /api/health
//	anypod config check       validate the feed configuration file
//	anypod debug ytdlp <url>  print parsed metadata for one URL
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/daemon"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "healthcheck":
			return runHealthcheckCLI(args[1:])
		case "config":
			return runConfigCLI(args[1:])
		case "debug":
			return runDebugCLI(args[1:])
		case "serve":
			args = args[1:]
		}
	}

	fs := flag.NewFlagSet("anypod", flag.ExitOnError)
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return daemon.ExitFailure
	}
	if *showVersion {
		fmt.Printf("anypod %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return daemon.ExitOK
	}

	settings := config.FromEnv()
	log.Configure(log.Config{
		Level:      settings.LogLevel,
		Format:     settings.LogFormat,
		Service:    "anypod",
		Stacktrace: settings.LogIncludeStacktrace,
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := daemon.New(ctx, settings)
	if err != nil {
		logger.Error().Err(err).Str("event", "main.startup_failed").Msg("daemon assembly failed")
		return daemon.ExitCode(err)
	}
	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str("event", "main.run_failed").Msg("daemon exited with error")
		return daemon.ExitCode(err)
	}
	return daemon.ExitOK
}
