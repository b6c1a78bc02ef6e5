package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/reviewpilot/reviewpilot/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "reviewpilot.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: runConfigValidate,
			},
			{
				Name:   "show",
				Usage:  "Print the resolved configuration with secrets redacted",
				Action: runConfigShow,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	configPath := c.String("config")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Println("Configuration is valid")
	return nil
}

func runConfigShow(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("provider:                %s\n", cfg.General.Provider)
	fmt.Printf("model:                   %s\n", cfg.General.Model)
	fmt.Printf("gitlab.url:              %s\n", cfg.GitLab.URL)
	fmt.Printf("gitlab.token:            %s\n", redact(cfg.GitLab.Token))
	fmt.Printf("model.api_key:           %s\n", redact(cfg.Model.APIKey))
	fmt.Printf("model.temperature:       %g\n", cfg.Model.Temperature)
	fmt.Printf("model.context_window:    %d\n", cfg.Model.ContextWindow)
	fmt.Printf("model.input_cost_per_mtok:  %g\n", cfg.Model.InputCostPerMTok)
	fmt.Printf("model.output_cost_per_mtok: %g\n", cfg.Model.OutputCostPerMTok)
	fmt.Printf("session.max_turns:       %d\n", cfg.Session.MaxTurns)
	fmt.Printf("session.max_delegate_iterations: %d\n", cfg.Session.MaxDelegateIterations)
	return nil
}

func redact(s string) string {
	if s == "" {
		return "(unset)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
