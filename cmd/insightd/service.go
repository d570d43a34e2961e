package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/flemzord/insightd/pkg/app"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// program adapts app.Run to the service manager's Start/Stop callbacks.
type program struct {
	params app.RunParams
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(_ service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		p.done <- app.Run(ctx, p.params)
	}()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

// newService builds the service definition. The installed unit re-invokes
// this binary with "service run" and an absolute config path.
func newService(flags *globalFlags) (service.Service, *program, error) {
	params, err := flags.params()
	if err != nil {
		return nil, nil, err
	}
	if params.ConfigPath == "" {
		resolved, err := app.ResolveConfigPath()
		if err != nil {
			return nil, nil, err
		}
		params.ConfigPath = resolved
	}
	abs, err := filepath.Abs(params.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving config path: %w", err)
	}
	params.ConfigPath = abs

	args := []string{"service", "run", "--config", abs}
	if flags.dataDir != "" {
		args = append(args, "--data-dir", flags.dataDir)
	}

	prg := &program{params: params}
	svc, err := service.New(prg, &service.Config{
		Name:        "insightd",
		DisplayName: "insightd",
		Description: "Weekly industry insight refresh and database keep-alive scheduler.",
		Arguments:   args,
		Option: service.KeyValue{
			"Restart": "on-failure",
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating service: %w", err)
	}
	return svc, prg, nil
}

func serviceCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install and run insightd as an OS service",
	}

	control := func(action, done string) *cobra.Command {
		return &cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the insightd service", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, _, err := newService(flags)
				if err != nil {
					return err
				}
				if err := service.Control(svc, action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s\n", done)
				return nil
			},
		}
	}

	cmd.AddCommand(
		control("install", "installed"),
		control("uninstall", "uninstalled"),
		control("start", "started"),
		control("stop", "stopped"),
		&cobra.Command{
			Use:   "status",
			Short: "Print the service status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, _, err := newService(flags)
				if err != nil {
					return err
				}
				st, err := svc.Status()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), statusString(st))
				return nil
			},
		},
		&cobra.Command{
			Use:    "run",
			Short:  "Run under the service manager",
			Args:   cobra.NoArgs,
			Hidden: true,
			RunE: func(_ *cobra.Command, _ []string) error {
				svc, _, err := newService(flags)
				if err != nil {
					return err
				}
				return svc.Run()
			},
		},
	)
	return cmd
}

func statusString(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
