// Package main is the entry point for the insightd CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flemzord/insightd/internal/config"
	"github.com/flemzord/insightd/internal/core"
	"github.com/flemzord/insightd/pkg/app"
	"github.com/spf13/cobra"

	// Compiled modules.
	_ "github.com/flemzord/insightd/internal/cron"
	_ "github.com/flemzord/insightd/internal/gateway"
	_ "github.com/flemzord/insightd/modules/provider/gemini"
	_ "github.com/flemzord/insightd/modules/provider/openai"
	_ "github.com/flemzord/insightd/modules/store/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand that loads the configuration.
type globalFlags struct {
	configPath string
	dataDir    string
	logLevel   string
}

func (g *globalFlags) params() (app.RunParams, error) {
	p := app.RunParams{
		ConfigPath: g.configPath,
		DataDir:    g.dataDir,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}
	if g.logLevel != "" {
		level, err := config.LogConfig{Level: g.logLevel}.SlogLevel()
		if err != nil {
			return p, err
		}
		p.LogLevel = &level
	}
	return p, nil
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "insightd",
		Short:         "Scheduled industry insight refresh and database keep-alive",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "Persistent data directory")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddCommand(
		versionCmd(),
		startCmd(flags),
		configCmd(flags),
		initCmd(flags),
		runCmd(flags),
		industryCmd(flags),
		mcpCmd(flags),
		serviceCmd(flags),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "insightd %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				fmt.Fprintln(out, "\nNo compiled modules.")
				return
			}
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range mods {
				fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}

func startCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler and all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := flags.params()
			if err != nil {
				return err
			}
			return app.Run(cmd.Context(), params)
		},
	}
}

func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	var offline bool
	check := &cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration, provision every module and probe the model providers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := flags.params()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				params.ConfigPath = args[0]
			}
			if params.LogLevel == nil {
				quiet := slog.LevelWarn
				params.LogLevel = &quiet
			}

			rt, err := app.Load(cmd.Context(), params)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(cmd.Context()))

			ids := rt.App.ModuleIDs()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}
			if offline {
				return nil
			}

			var failed int
			for _, st := range rt.CheckProviders(cmd.Context()) {
				if st.Err != nil {
					failed++
					fmt.Fprintf(out, "Provider %s: FAILED (%v)\n", st.Name, st.Err)
					continue
				}
				fmt.Fprintf(out, "Provider %s: reachable\n", st.Name)
			}
			if failed > 0 {
				return fmt.Errorf("config check: %d provider(s) failed the health check", failed)
			}
			return nil
		},
	}
	check.Flags().BoolVar(&offline, "offline", false, "Skip the provider health checks")
	cmd.AddCommand(check)
	return cmd
}

// loadRuntime loads the configuration for a one-shot command. The HTTP
// gateway is never started by these commands so it is not loaded.
func loadRuntime(cmd *cobra.Command, flags *globalFlags, skip ...string) (*app.Runtime, error) {
	params, err := flags.params()
	if err != nil {
		return nil, err
	}
	return app.Load(cmd.Context(), params, append(skip, "gateway.http")...)
}
