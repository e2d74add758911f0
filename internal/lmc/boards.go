package lmc

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/linaro/imagetools/internal/board"
	"github.com/spf13/cobra"
)

func boardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List the supported boards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listBoards(cmd.OutOrStdout())
		},
	}
}

func listBoards(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "BOARD\tFAT\tBOOT SCRIPT\tCONSOLE")
	for _, name := range board.Names() {
		p, err := board.Lookup(name)
		if err != nil {
			return err
		}
		script := p.BootScript
		if script == "" {
			script = "-"
		}
		fmt.Fprintf(tw, "%s\tfat%d\t%s\t%s\n", p.Name, p.FATSize, script, p.SerialConsole)
	}
	return tw.Flush()
}
