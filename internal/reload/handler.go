package reload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/insightd/internal/config"
	"github.com/flemzord/insightd/internal/core"
)

// Handler reloads application configuration and notifies modules.
type Handler struct {
	app    *core.App
	logger *slog.Logger

	// OnLoaded, when set, sees every successfully validated config before
	// modules are reloaded (used to apply the new log level).
	OnLoaded func(*config.Config)
}

// NewHandler creates a reload handler.
func NewHandler(app *core.App, logger *slog.Logger) *Handler {
	return &Handler{app: app, logger: logger}
}

// HandleReload loads a fresh config from disk, validates it, and calls Reload
// on all modules that implement core.Reloader.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return h.HandleReloadFromConfig(ctx, cfg)
}

// HandleReloadFromConfig reloads modules from an already-validated config.
// Modules added to or removed from the config are not started or stopped;
// that takes a restart.
func (h *Handler) HandleReloadFromConfig(ctx context.Context, cfg *config.Config) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}

	if h.OnLoaded != nil {
		h.OnLoaded(cfg)
	}

	// Derive from the running context so services stay visible.
	appCtx := h.app.Context().WithModuleConfigs(cfg.Modules)
	if err := h.app.ReloadModules(appCtx); err != nil {
		return fmt.Errorf("reloading modules: %w", err)
	}

	h.logger.Info("reload: configuration applied")
	return nil
}
