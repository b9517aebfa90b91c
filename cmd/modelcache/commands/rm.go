package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRmCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>...",
		Aliases: []string{"remove", "evict"},
		Short:   "Remove models and their partial chunks from the cache",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(global)
			if err != nil {
				return err
			}
			defer rt.Close()

			for _, name := range args {
				n, err := rt.loader.Evict(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s (%d chunks)\n", name, n)
			}
			return nil
		},
	}
}
