package commands

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vertextoedge/modelcache/internal/domain"
)

func newListCmd(global *globalOptions) *cobra.Command {
	var human bool

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List cached models",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(global)
			if err != nil {
				return err
			}
			defer rt.Close()

			infos, err := rt.loader.List(cmd.Context())
			if err != nil {
				return err
			}
			printListing(cmd.OutOrStdout(), infos, human)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&human, "human-readable", "H", false, "Print sizes in human-readable format")
	return cmd
}

// printListing prints name, size and creation time in columns
func printListing(w io.Writer, infos []domain.ObjectInfo, human bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tCACHED")
	for _, info := range infos {
		size := strconv.FormatInt(info.Size, 10)
		if human {
			size = humanize.IBytes(uint64(info.Size))
		}
		cached := "-"
		if !info.CreatedAt.IsZero() {
			cached = humanize.Time(info.CreatedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Identity, size, cached)
	}
	tw.Flush()
}
