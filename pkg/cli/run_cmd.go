package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lakerun/internal/domain"
)

func newRunCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run [dir]",
		Short: "Execute one pipeline run to completion",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(dirArg(args), *envFile)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			run, err := eng.runner.Execute(ctx, domain.TriggerTypeManual)
			if run != nil {
				printRun(cmd, eng, run)
			}
			if err != nil {
				return err
			}
			if run.Status != domain.RunStatusSuccess {
				return fmt.Errorf("run %s finished with status %s", run.ID, run.Status)
			}
			return nil
		},
	}
}

func printRun(cmd *cobra.Command, eng *engine, run *domain.Run) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s\n", run.ID, run.Status)

	tableRuns, err := eng.runner.TableRuns(context.Background(), run.ID)
	if err != nil {
		return
	}
	for _, tr := range tableRuns {
		line := fmt.Sprintf("  %-30s %-9s %d rows", tr.TableName, tr.Status, tr.RowsWritten)
		if tr.ErrorMessage != nil {
			line += "  " + *tr.ErrorMessage
		}
		fmt.Fprintln(out, line)
	}
}
