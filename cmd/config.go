package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/promptsync/internal/config"
	"github.com/promptsync/internal/tenantconfig"
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
						Value:   "promptsync.toml",
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
				Name:  "check",
				Usage: "Show which secrets and connection settings are configured",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env-file",
						Usage: "Load environment variables from `FILE` first",
					},
				},
				Action: runConfigCheck,
			},
			{
				Name:   "keygen",
				Usage:  "Generate a store encryption key",
				Action: runConfigKeygen,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	if _, err := loadConfig(c); err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, "Configuration is valid")
	return nil
}

func runConfigCheck(c *cli.Context) error {
	if envFile := c.String("env-file"); envFile != "" {
		if err := LoadEnvFile(envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	result := CheckRequiredConfig(cfg)
	PrintConfigCheck(c.App.Writer, result)
	if len(result.Missing) > 0 {
		return cli.Exit("required configuration is missing", 1)
	}
	return nil
}

func runConfigKeygen(c *cli.Context) error {
	key, err := tenantconfig.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	fmt.Fprintln(c.App.Writer, key)
	return nil
}
