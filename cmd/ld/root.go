package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbx-labs/coldld/internal/elfimage"
	"github.com/dbx-labs/coldld/internal/link"
	"github.com/dbx-labs/coldld/internal/opt"
)

type rootOptions struct {
	logger  *slog.Logger
	config  *opt.Config
	verbose bool
}

// newRootCommand builds the ld entry point. Flag parsing is disabled:
// ld's own grammar (-lfoo, -Lpath, --push-state/--pop-state, bare
// positional object files) doesn't fit pflag's POSIX model, so argv is
// handed to internal/opt.Parse instead; cobra is kept around only for
// the command's Use/Short metadata and Execute plumbing. Because cobra
// parses no flags here, -h/--help is caught by runLink itself.
func newRootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                "ld [options] file...",
		Short:              "A minimal static linker for ELF64 x86-64 objects",
		DisableFlagParsing: true,
		RunE: func(_ *cobra.Command, args []string) error {
			return runLink(opts, args)
		},
	}

	return cmd
}

func runLink(opts *rootOptions, args []string) error {
	if containsHelpFlag(args) {
		fmt.Println("usage: ld [options] file...")
		return nil
	}

	parsed, err := opt.Parse(args)
	if err != nil {
		return fmt.Errorf("failed to parse arguments: %w", err)
	}

	parsed.SearchDir = append(append([]string{}, opts.config.SearchDir...), parsed.SearchDir...)

	entries, err := opt.Resolve(parsed)
	if err != nil {
		return err
	}

	ctx, err := link.Link(entries)
	if err != nil {
		return err
	}

	outputPath := parsed.Output
	if outputPath == "" {
		outputPath = "a.out"
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open output file %q: %w", outputPath, err)
	}
	defer out.Close()

	if _, err := elfimage.New(ctx).WriteTo(out); err != nil {
		return fmt.Errorf("failed to write output image: %w", err)
	}

	if err := out.Chmod(0o755); err != nil {
		return fmt.Errorf("failed to set executable permissions on %q: %w", outputPath, err)
	}

	opts.logger.Info("wrote executable", "path", outputPath)

	return nil
}

func containsHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "-h" || a == "--help" {
			return true
		}
	}
	return false
}
