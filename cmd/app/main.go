package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aclarai/vaultsync/internal"
	pkgconfig "github.com/aclarai/vaultsync/pkg/config"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	configPath := cmd.String("config")
	if _, err := os.Stat(configPath); err == nil {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if cmd.IsSet("config") {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}
	return cfg, nil
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runSync(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sum, err := internal.RunSync(ctx, internal.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("sync error: %w", err)
	}

	out, _ := json.MarshalIndent(sum, "", "  ")
	fmt.Println(string(out))

	if len(sum.Conflicts) > 0 {
		return cli.Exit(fmt.Sprintf("%d unresolved conflict(s)", len(sum.Conflicts)), 1)
	}
	return nil
}

func runImport(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sum, err := internal.RunImport(ctx, internal.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("import error: %w", err)
	}

	out, _ := json.MarshalIndent(sum, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("VAULTSYNC_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:  "vaultsync",
		Usage: "Bidirectional sync between a Markdown vault and a block graph",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "watch",
				Usage:  "Run the sync daemon: file watcher, periodic scan, HTTP API, and SSE events",
				Action: runWatch,
			},
			{
				Name:   "sync",
				Usage:  "Run one full vault scan and exit; non-zero exit on unresolved conflicts",
				Action: runSync,
			},
			{
				Name:   "import",
				Usage:  "Register untracked vault files as file-level blocks",
				Action: runImport,
			},
			{
				Name:   "mcp",
				Usage:  "Serve sync tools over the Model Context Protocol on stdio",
				Action: runMCP,
			},
		},
		// Bare invocation behaves like the daemon.
		Action: runWatch,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
