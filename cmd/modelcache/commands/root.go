// Package commands implements the modelcache command-line interface.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vertextoedge/modelcache/internal/domain"
)

// Build information set by main
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "modelcache",
		Short: "Resumable chunked download cache for large model files",
		Long: `modelcache downloads large model files in parallel byte ranges, keeps every
finished range in a local cache and resumes interrupted downloads from it.

Configuration is read from the file given with --config and from MODELCACHE_*
environment variables.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newFetchCmd(opts),
		newImportCmd(opts),
		newListCmd(opts),
		newRmCmd(opts),
		newStatsCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
	}
	return err
}

// signalContext returns a context that is canceled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// formatError converts load errors to user-facing messages
func formatError(err error) string {
	var chunkErr *domain.ChunkFetchError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "Error: operation canceled (finished chunks are kept, run the command again to resume)"
	case domain.IsSizeUnknown(err):
		return fmt.Sprintf("Error: %v (retry with --fallback to download without chunking)", err)
	case errors.As(err, &chunkErr):
		return fmt.Sprintf("Error: download failed: %v (run the command again to resume)", err)
	case errors.Is(err, domain.ErrDigestMismatch):
		return fmt.Sprintf("Error: %v (cached chunks were discarded)", err)
	case errors.Is(err, domain.ErrNoSpace):
		return fmt.Sprintf("Error: %v", err)
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Sprintf("Error: not cached: %v", err)
	case errors.Is(err, domain.ErrInvalidInput):
		return fmt.Sprintf("Error: invalid input: %v", err)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
