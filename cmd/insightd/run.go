package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func runCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "run <job>",
		Short:     "Run a scheduled job once and exit",
		Long:      "Run a scheduled job once, through the same checkpointed path as the schedule.\nJobs: keepalive, insights.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"keepalive", "insights"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd, flags)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(cmd.Context()))

			jobs, err := rt.Scheduler()
			if err != nil {
				return err
			}

			start := time.Now()
			if err := jobs.Trigger(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("job %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s completed in %s\n", args[0], time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
