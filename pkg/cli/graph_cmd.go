package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lakerun/internal/declarative"
	"lakerun/internal/pipeline"
)

func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <dir>",
		Short: "Print the resolved execution order of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := declarative.LoadDirectory(args[0])
			if err != nil {
				return err
			}
			levels, err := pipeline.ResolveExecutionOrder(def)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pipeline %q\n", def.Name)
			for i, level := range levels {
				fmt.Fprintf(out, "  Level %d: %s\n", i+1, strings.Join(level, ", "))
			}
			for i := range def.Tables {
				t := &def.Tables[i]
				if len(t.Inputs) == 0 {
					continue
				}
				fmt.Fprintf(out, "  %s <- %s\n", t.Name, strings.Join(t.Inputs, ", "))
			}
			return nil
		},
	}
}
