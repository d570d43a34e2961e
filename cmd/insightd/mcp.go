package main

import (
	"context"
	"os"

	"github.com/flemzord/insightd/internal/mcpserver"
	"github.com/spf13/cobra"
)

func mcpCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve stored insights as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd, flags)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(cmd.Context()))

			repo, err := rt.Insights()
			if err != nil {
				return err
			}
			var jobs mcpserver.JobLister
			if sched, err := rt.Scheduler(); err == nil {
				// Prepared, not started: list_jobs reads the run history the
				// daemon persisted.
				if err := sched.Prepare(); err != nil {
					return err
				}
				jobs = sched
			}

			srv := mcpserver.New(repo, jobs, version, rt.Logger)
			return srv.Serve(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
