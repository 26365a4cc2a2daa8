package main

import (
	"fmt"

	"github.com/jonathan/web2pdf/internal/observability"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete documents older than the retention period",
	Long:  `Runs the retention sweep once: expired documents, orphaned work directories and, with a database, their history rows.`,
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.janitor().RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintSweep(result.Artifacts, result.WorkDirs)
	return nil
}
