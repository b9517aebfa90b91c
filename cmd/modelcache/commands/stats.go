package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatsCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(global)
			if err != nil {
				return err
			}
			defer rt.Close()

			stats, err := rt.loader.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend:  %s (%s)\n", rt.cfg.Store.Backend, rt.cfg.Store.Path)
			fmt.Fprintf(out, "Models:   %d (%s)\n", stats.Objects, humanize.IBytes(uint64(stats.ObjectBytes)))
			fmt.Fprintf(out, "Chunks:   %d (%s)\n", stats.Chunks, humanize.IBytes(uint64(stats.ChunkBytes)))
			return nil
		},
	}
}
