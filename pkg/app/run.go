// Package app provides the shared entry point for the insightd binary.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flemzord/insightd/internal/config"
	"github.com/flemzord/insightd/internal/reload"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel overrides log.level from the configuration.
	LogLevel *slog.Level
}

// Run loads configuration, starts all modules, and blocks until ctx is
// done or a shutdown signal is received. SIGHUP and file-change events
// trigger a live configuration reload for modules that implement
// core.Reloader.
func Run(ctx context.Context, params RunParams) error {
	rt, err := Load(ctx, params)
	if err != nil {
		return err
	}

	handler := reload.NewHandler(rt.App, rt.Logger)
	handler.OnLoaded = func(cfg *config.Config) {
		if params.LogLevel != nil {
			return
		}
		if level, err := cfg.Log.SlogLevel(); err == nil {
			rt.SetLogLevel(level)
		}
	}

	if err := rt.App.Start(); err != nil {
		rt.Close(context.Background())
		return err
	}
	rt.Logger.Info("insightd started",
		"version", params.Version,
		"commit", params.Commit,
		"config", rt.ConfigPath,
	)

	// --- signal handling ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// --- file watcher ---
	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	watcher := reload.NewWatcher(reload.WatcherConfig{
		ConfigPath: rt.ConfigPath,
		Logger:     rt.Logger,
	})
	if err := watcher.Start(watchCtx); err != nil {
		rt.Logger.Warn("config watcher unavailable, use SIGHUP to reload", "error", err)
	}
	defer watcher.Stop()

	shutdown := func(reason string) error {
		rt.Logger.Info("shutdown requested", "reason", reason)
		rt.Close(context.Background())
		rt.Logger.Info("shutdown complete")
		return nil
	}

	// --- main event loop ---
	for {
		select {
		case <-ctx.Done():
			return shutdown(ctx.Err().Error())
		case sig := <-sigCh:
			if sig != syscall.SIGHUP {
				return shutdown(sig.String())
			}
			rt.Logger.Info("SIGHUP received, reloading configuration")
			if err := handler.HandleReload(watchCtx, rt.ConfigPath); err != nil {
				rt.Logger.Error("reload failed", "error", err)
			}
		case evt := <-watcher.Events():
			rt.Logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			if err := handler.HandleReload(watchCtx, rt.ConfigPath); err != nil {
				rt.Logger.Error("reload failed", "error", err)
			}
		}
	}
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/insightd/insightd.yaml → ~/.config/insightd/insightd.yaml → ./insightd.yaml
func ResolveConfigPath() (string, error) {
	candidates := ConfigCandidates()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// ConfigCandidates lists the paths ResolveConfigPath looks at, in order.
func ConfigCandidates() []string {
	var candidates []string
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "insightd", "insightd.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "insightd", "insightd.yaml"))
	}
	return append(candidates, "insightd.yaml")
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/insightd if set, otherwise ~/.local/share/insightd.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "insightd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "insightd")
}
