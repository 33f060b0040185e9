package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/cmd/consolidate"
	"github.com/chirino/spacechat/internal/cmd/migrate"
	"github.com/chirino/spacechat/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "spacechat",
		Usage: "Spaces, chats and unread tracking for project and direct conversations",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			consolidate.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
