package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/promptsync/pkg/models"
)

// ResolveCommand returns the resolve command
func ResolveCommand() *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "Resolve the prompt a tenant would get for a summary request",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "tenant",
				Aliases:  []string{"t"},
				Usage:    "Tenant (guild) identifier",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "category",
				Usage: "Summary category, e.g. standup or meeting",
				Value: "general",
			},
			&cli.StringFlag{
				Name:  "channel",
				Usage: "Channel name",
			},
			&cli.StringFlag{
				Name:  "summary-type",
				Usage: "Summary type, e.g. daily or weekly",
				Value: "detailed",
			},
			&cli.IntFlag{
				Name:  "message-count",
				Usage: "Number of messages being summarized",
			},
			&cli.StringSliceFlag{
				Name:  "var",
				Usage: "Extra template variable as `KEY=VALUE` (repeatable)",
			},
			&cli.StringFlag{
				Name:  "repo",
				Usage: "Resolve against this repository instead of the stored tenant config",
			},
			&cli.StringFlag{
				Name:  "branch",
				Usage: "Branch to read when --repo is set",
				Value: "main",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Repository access token when --repo is set",
				EnvVars: []string{"PROMPTSYNC_REPO_TOKEN"},
			},
			&cli.BoolFlag{
				Name:  "content-only",
				Usage: "Print only the rendered prompt",
			},
		},
		Action: runResolve,
	}
}

func runResolve(c *cli.Context) error {
	pctx, err := promptContextFromFlags(c)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc, err := buildServices(c.Context, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	var prompt models.ResolvedPrompt
	if repo := c.String("repo"); repo != "" {
		prompt = svc.resolver.Resolve(c.Context, pctx.GuildID, pctx, &models.TenantPromptConfig{
			GuildID: pctx.GuildID,
			RepoURL: repo,
			Branch:  c.String("branch"),
			Token:   c.String("token"),
			Enabled: true,
		})
	} else {
		prompt = svc.resolver.ResolveForTenant(c.Context, pctx.GuildID, pctx)
	}

	return printResolved(c.App.Writer, prompt, c.Bool("content-only"))
}

func promptContextFromFlags(c *cli.Context) (models.PromptContext, error) {
	extra, err := parseVars(c.StringSlice("var"))
	if err != nil {
		return models.PromptContext{}, err
	}
	return models.PromptContext{
		GuildID:      c.String("tenant"),
		ChannelName:  c.String("channel"),
		Category:     c.String("category"),
		SummaryType:  c.String("summary-type"),
		MessageCount: c.Int("message-count"),
		Extra:        extra,
	}, nil
}

func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q, expected KEY=VALUE", pair)
		}
		out[key] = value
	}
	return out, nil
}

func printResolved(w io.Writer, prompt models.ResolvedPrompt, contentOnly bool) error {
	if contentOnly {
		_, err := fmt.Fprintln(w, prompt.Content)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(prompt)
}
