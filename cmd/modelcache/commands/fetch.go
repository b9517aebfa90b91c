package commands

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/service/loader"
)

type fetchOptions struct {
	name      string
	digest    string
	parallel  int
	chunkSize string
	retries   int
	fallback  bool
	quiet     bool
}

func newFetchCmd(global *globalOptions) *cobra.Command {
	opts := &fetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Download a model into the cache, resuming from cached chunks",
		Long: `Fetch downloads the resource at url in parallel byte ranges and stores it in
the cache under --name (default: the last path segment of the URL).

A resource already in the cache is returned without network access. An
interrupted fetch keeps its finished chunks; running it again downloads only
the missing ones.

Examples:
  modelcache fetch https://example.com/models/gemma.litertlm
  modelcache fetch --parallel 8 --chunk-size 16MiB https://example.com/m.bin
  modelcache fetch --digest sha256:3f5a... --name gemma https://example.com/m.bin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, global, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "Cache identity (default: URL file name)")
	cmd.Flags().StringVar(&opts.digest, "digest", "", "Expected content digest, e.g. sha256:<hex>")
	cmd.Flags().IntVarP(&opts.parallel, "parallel", "p", 0, "Concurrent range requests (default from config)")
	cmd.Flags().StringVar(&opts.chunkSize, "chunk-size", "", "Chunk size, e.g. 10MiB (default from config)")
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "Retries per chunk; -1 disables (default from config)")
	cmd.Flags().BoolVar(&opts.fallback, "fallback", false, "Download in one request when the origin does not report a size")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not show progress")
	return cmd
}

func runFetch(cmd *cobra.Command, global *globalOptions, opts *fetchOptions, rawURL string) error {
	src, err := domain.ParseRemoteSource(rawURL)
	if err != nil {
		return err
	}

	name := opts.name
	if name == "" {
		name = defaultName(rawURL)
	}

	var chunkSize int64
	if opts.chunkSize != "" {
		n, err := humanize.ParseBytes(opts.chunkSize)
		if err != nil || n == 0 {
			return fmt.Errorf("%w: chunk size %q", domain.ErrInvalidInput, opts.chunkSize)
		}
		chunkSize = int64(n)
	}

	rt, err := setup(global)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	onProgress, finish := newProgress(cmd.ErrOrStderr(), name, !opts.quiet && isTerminal(cmd.ErrOrStderr()))
	h, err := rt.loader.Load(ctx, src, name, loader.Options{
		MaxParallel:   opts.parallel,
		ChunkSize:     chunkSize,
		MaxRetries:    opts.retries,
		AllowFallback: opts.fallback,
		Digest:        opts.digest,
		OnProgress:    onProgress,
	})
	finish()
	if err != nil {
		return err
	}

	state := "downloaded"
	if h.FromCache {
		state = "cached"
	}
	printHandle(cmd, h, state)
	return nil
}

func printHandle(cmd *cobra.Command, h *domain.Handle, state string) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", h.Identity, humanize.IBytes(uint64(h.Size)), state)
}

// defaultName derives a cache identity from a URL or file path
func defaultName(source string) string {
	if u, err := url.Parse(source); err == nil && u.Host != "" {
		if base := path.Base(u.Path); base != "/" && base != "." {
			return base
		}
		return u.Host
	}
	return filepath.Base(source)
}
