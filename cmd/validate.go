package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/promptsync/internal/logging"
	"github.com/promptsync/internal/pathrouter"
	"github.com/promptsync/internal/schema"
)

// ValidateCommand returns the validate command
func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate routing manifests, prompt templates and repositories",
		Subcommands: []*cli.Command{
			{
				Name:      "path",
				Usage:     "Validate a PATH routing manifest",
				ArgsUsage: "FILE",
				Action:    runValidatePath,
			},
			{
				Name:      "template",
				Usage:     "Validate a prompt template body",
				ArgsUsage: "FILE",
				Action: func(c *cli.Context) error {
					return validateFile(c, schema.ValidateTemplate)
				},
			},
			{
				Name:      "repo",
				Usage:     "Fetch and validate a repository's PATH manifest",
				ArgsUsage: "OWNER/REPO",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "branch",
						Usage: "Branch to read",
						Value: "main",
					},
					&cli.StringFlag{
						Name:    "token",
						Usage:   "Repository access token",
						EnvVars: []string{"PROMPTSYNC_REPO_TOKEN"},
					},
				},
				Action: runValidateRepo,
			},
		},
	}
}

func validateFile(c *cli.Context, validate func(string) schema.ValidationResult) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: FILE")
	}
	data, err := os.ReadFile(c.Args().Get(0))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.Args().Get(0), err)
	}
	return reportValidation(c.App.Writer, validate(string(data)))
}

func runValidatePath(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: FILE")
	}
	data, err := os.ReadFile(c.Args().Get(0))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.Args().Get(0), err)
	}

	res := schema.ValidatePath(string(data))
	if res.Valid {
		if doc, err := pathrouter.Parse(string(data)); err == nil {
			for _, route := range doc.RoutesByPriority() {
				fmt.Fprintf(c.App.Writer, "route %s (priority %d): %s\n", route.Name, route.Priority, route.PathTemplate)
			}
		}
	}
	return reportValidation(c.App.Writer, res)
}

func runValidateRepo(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: OWNER/REPO")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Pretty)
	// one-shot command: nothing scrapes metrics
	client := newRepositoryClient(cfg, nil)
	res, err := client.CheckRepository(c.Context, c.Args().Get(0), c.String("branch"), c.String("token"))
	if err != nil {
		return fmt.Errorf("failed to check repository: %w", err)
	}
	if status := client.RateLimitStatus(); status.Known {
		fmt.Fprintf(c.App.Writer, "rate limit: %d of %d remaining\n", status.Remaining, status.Limit)
	}
	return reportValidation(c.App.Writer, res)
}

func reportValidation(w io.Writer, res schema.ValidationResult) error {
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	if res.Valid {
		fmt.Fprintln(w, "valid")
		return nil
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
	return cli.Exit(fmt.Sprintf("validation failed with %d error(s)", len(res.Errors)), 1)
}
