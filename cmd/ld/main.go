package main

import (
	"log/slog"
	"os"

	"github.com/dbx-labs/coldld/internal/opt"
)

func main() {
	level := &slog.LevelVar{}
	level.Set(slog.LevelWarn)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	args, verbose := stripVerboseFlag(os.Args[1:])
	if verbose {
		level.Set(slog.LevelDebug)
	}

	config, err := opt.LoadConfig(os.Getenv("LD_CONFIG"))
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	root := newRootCommand(&rootOptions{logger: logger, config: config, verbose: verbose})
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

// stripVerboseFlag removes -v/--verbose from args, since
// internal/opt.Parse has no notion of it: verbosity only controls
// this binary's own logging, not anything the core pipeline sees.
func stripVerboseFlag(args []string) ([]string, bool) {
	out := make([]string, 0, len(args))
	verbose := false

	for _, a := range args {
		if a == "-v" || a == "--verbose" {
			verbose = true
			continue
		}
		out = append(out, a)
	}

	return out, verbose
}
