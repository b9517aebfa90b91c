package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vertextoedge/modelcache/internal/domain"
	"github.com/vertextoedge/modelcache/internal/service/loader"
)

func newImportCmd(global *globalOptions) *cobra.Command {
	var name, digest string

	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Store a local model file in the cache",
		Long: `Import copies a file that is already on disk into the cache as a whole
object, replacing any cached copy with the same name.

Examples:
  modelcache import ./gemma.litertlm
  modelcache import --name gemma --digest sha256:3f5a... /tmp/download.bin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := domain.ParseSource(args[0])
			if err != nil {
				return err
			}
			file, ok := src.(domain.FileSource)
			if !ok {
				return fmt.Errorf("%w: %s is not a local file, use fetch for URLs", domain.ErrInvalidInput, args[0])
			}
			if name == "" {
				name = defaultName(file.Path)
			}

			rt, err := setup(global)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := signalContext()
			defer cancel()

			h, err := rt.loader.Load(ctx, file, name, loader.Options{Digest: digest})
			if err != nil {
				return err
			}
			printHandle(cmd, h, "imported")
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Cache identity (default: file name)")
	cmd.Flags().StringVar(&digest, "digest", "", "Expected content digest, e.g. sha256:<hex>")
	return cmd
}
