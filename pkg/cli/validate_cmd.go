package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lakerun/internal/declarative"
	"lakerun/internal/pipeline"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Validate a pipeline directory offline",
		Long:  "Loads pipeline.yaml and its table definitions, checks expressions, references and the dependency graph without touching the state store.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := declarative.LoadDirectory(args[0])
			if err != nil {
				return err
			}
			if _, err := pipeline.ResolveExecutionOrder(def); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %q is valid (%d tables).\n", def.Name, len(def.Tables))
			return nil
		},
	}
}
