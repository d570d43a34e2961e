package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/flemzord/insightd/internal/core"
	"github.com/flemzord/insightd/pkg/app"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	defaultProvider    = "provider.gemini"
	defaultModel       = "gemini-2.5-flash-preview-09-2025"
	defaultOpenAIModel = "gpt-4o-mini"
)

// apiKeyEnv names the environment variable each backend reads its key from.
var apiKeyEnv = map[string]string{
	"provider.gemini": "GEMINI_API_KEY",
	"provider.openai": "OPENAI_API_KEY",
}

// initAnswers are the choices collected by the init wizard.
type initAnswers struct {
	ConfigPath string
	Provider   string
	APIKey     string
	Model      string
	Industries []string
	Gateway    bool
	Bind       string
}

func initCmd(flags *globalFlags) *cobra.Command {
	var (
		force          bool
		nonInteractive bool
		answers        initAnswers
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			answers.ConfigPath = flags.configPath
			if answers.ConfigPath == "" {
				answers.ConfigPath = app.ConfigCandidates()[0]
			}
			if !nonInteractive {
				if err := runWizard(cmd, &answers); err != nil {
					return err
				}
			}
			if _, ok := apiKeyEnv[answers.Provider]; !ok {
				return fmt.Errorf("unsupported provider %q", answers.Provider)
			}
			if answers.Model == "" {
				answers.Model = defaultModelFor(answers.Provider)
			}

			if _, err := os.Stat(answers.ConfigPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", answers.ConfigPath)
			}
			if err := writeInitFiles(answers); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", answers.ConfigPath)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing configuration file")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Write the configuration from flags without prompting")
	cmd.Flags().StringSliceVar(&answers.Industries, "industry", nil, "Industry to seed (repeatable)")
	cmd.Flags().StringVar(&answers.Provider, "provider", defaultProvider, "Model backend module")
	cmd.Flags().StringVar(&answers.Model, "model", "", "Model name (defaults per provider)")
	cmd.Flags().BoolVar(&answers.Gateway, "gateway", false, "Enable the HTTP gateway")
	cmd.Flags().StringVar(&answers.Bind, "bind", "127.0.0.1:8080", "Gateway listen address")
	return cmd
}

func runWizard(cmd *cobra.Command, a *initAnswers) error {
	industries := strings.Join(a.Industries, "\n")
	hideUnless := func(id string) func() bool {
		return func() bool { return a.Provider != id }
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Configuration file").
				Value(&a.ConfigPath).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("path is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Model backend").
				Options(providerOptions()...).
				Value(&a.Provider),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Gemini API key").
				Description("Stored in a .env file next to the configuration. Leave empty to use $GEMINI_API_KEY.").
				EchoMode(huh.EchoModePassword).
				Value(&a.APIKey),
			huh.NewSelect[string]().
				Title("Model").
				Options(huh.NewOptions(defaultModel, "gemini-2.5-flash", "gemini-2.5-pro")...).
				Value(&a.Model),
		).WithHideFunc(hideUnless("provider.gemini")),
		huh.NewGroup(
			huh.NewInput().
				Title("OpenAI API key").
				Description("Stored in a .env file next to the configuration. Leave empty to use $OPENAI_API_KEY.").
				EchoMode(huh.EchoModePassword).
				Value(&a.APIKey),
			huh.NewInput().
				Title("Model").
				Placeholder(defaultOpenAIModel).
				Value(&a.Model),
		).WithHideFunc(hideUnless("provider.openai")),
		huh.NewGroup(
			huh.NewText().
				Title("Industries to track").
				Description("One per line. More can be added later with `insightd industry add`.").
				Value(&industries),
			huh.NewConfirm().
				Title("Enable the HTTP gateway?").
				Value(&a.Gateway),
		),
	)
	if err := form.RunWithContext(cmd.Context()); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errors.New("init aborted")
		}
		return err
	}
	a.Industries = splitLines(industries)
	return nil
}

// providerOptions lists the compiled provider modules the wizard can
// configure.
func providerOptions() []huh.Option[string] {
	var opts []huh.Option[string]
	for _, info := range core.GetModulesByNamespace("provider") {
		id := string(info.ID)
		if _, ok := apiKeyEnv[id]; ok {
			opts = append(opts, huh.NewOption(strings.TrimPrefix(id, "provider."), id))
		}
	}
	return opts
}

func defaultModelFor(providerID string) string {
	if providerID == "provider.openai" {
		return defaultOpenAIModel
	}
	return defaultModel
}

func splitLines(s string) []string {
	var out []string
	for line := range strings.SplitSeq(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// writeInitFiles writes the configuration and, when an API key was given,
// a .env file beside it readable only by the owner.
func writeInitFiles(a initAnswers) error {
	if a.Provider == "" {
		a.Provider = defaultProvider
	}
	raw, err := renderConfig(a)
	if err != nil {
		return err
	}
	dir := filepath.Dir(a.ConfigPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := os.WriteFile(a.ConfigPath, raw, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if a.APIKey == "" {
		return nil
	}

	envPath := filepath.Join(dir, ".env")
	env, err := godotenv.Read(envPath)
	if err != nil {
		env = map[string]string{}
	}
	env[apiKeyEnv[a.Provider]] = a.APIKey
	if err := godotenv.Write(env, envPath); err != nil {
		return fmt.Errorf("writing %s: %w", envPath, err)
	}
	return os.Chmod(envPath, 0o600)
}

type initConfig struct {
	Version string         `yaml:"version"`
	Modules map[string]any `yaml:"modules"`
}

// renderConfig builds the YAML written by init. The API key is always
// referenced through the environment, never inlined.
func renderConfig(a initAnswers) ([]byte, error) {
	if a.Provider == "" {
		a.Provider = defaultProvider
	}
	if a.Model == "" {
		a.Model = defaultModelFor(a.Provider)
	}
	store := map[string]any{}
	if len(a.Industries) > 0 {
		store["seed"] = a.Industries
	}
	backend := map[string]any{
		"api_key": "${" + apiKeyEnv[a.Provider] + "}",
		"model":   a.Model,
	}
	if a.Provider == "provider.openai" {
		backend["json_mode"] = true
	}
	cfg := initConfig{
		Version: "1",
		Modules: map[string]any{
			"store.sqlite": store,
			a.Provider:     backend,
			"scheduler.cron": map[string]any{
				"provider":  a.Provider,
				"keepalive": map[string]any{"schedule": "0 0 */6 * *"},
				"insights":  map[string]any{"schedule": "0 0 * * 0"},
			},
		},
	}
	if a.Gateway {
		cfg.Modules["gateway.http"] = map[string]any{"bind": a.Bind}
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("rendering config: %w", err)
	}
	return raw, nil
}
