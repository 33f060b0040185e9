package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/cmd/serve"
	"github.com/chirino/spacechat/internal/config"
	"github.com/chirino/spacechat/internal/consolidation"
	registrymigrate "github.com/chirino/spacechat/internal/registry/migrate"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/urfave/cli/v3"

	_ "github.com/chirino/spacechat/internal/plugin/store/mongo"
	_ "github.com/chirino/spacechat/internal/plugin/store/postgres"
	_ "github.com/chirino/spacechat/internal/plugin/store/sqlite"
)

// Command returns the consolidate sub-command: one healing pass, or with
// --inspect a read-only integrity census, printed as JSON.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var inspect bool
	flags := append(serve.DatabaseFlags(&cfg), serve.ConsolidationFlags(&cfg)...)
	flags = append(flags, &cli.BoolFlag{
		Name:        "inspect",
		Usage:       "Report invariant violations without repairing them",
		Destination: &inspect,
	})
	return &cli.Command{
		Name:  "consolidate",
		Usage: "Repair duplicate spaces, chats and memberships",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			return run(config.WithContext(ctx, &cfg), &cfg, inspect, os.Stdout)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, inspect bool, out io.Writer) error {
	if err := registrymigrate.RunAll(ctx); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	loader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return err
	}
	store, err := loader(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	runner := consolidation.NewRunner(store, consolidation.Options{
		BatchSize:   cfg.ConsolidationBatchSize,
		OrphanGrace: cfg.OrphanChatGrace,
	})

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if inspect {
		integrity, err := runner.Inspect(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(map[string]any{"clean": integrity.Clean(), "violations": integrity})
	}

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	log.Info("Consolidation finished", "changed", report.Changed())
	return enc.Encode(report)
}
