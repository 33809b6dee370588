package main

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/rigorlab/rigor/pkg/config"
	"github.com/rigorlab/rigor/pkg/log"
	fileStore "github.com/rigorlab/rigor/pkg/persistence/file"
	"github.com/rigorlab/rigor/pkg/web"
)

// runServe starts the observer API. It opens the store without the writer
// lock so it can run alongside an active orchestrator process.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	log.Setup(cfg.LogLevel)
	logger := log.WithModule("rigor")

	store, err := fileStore.NewReadOnly(cfg.Store, logger)
	if err != nil {
		return err
	}

	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName: "rigor-observer",
	})

	web.NewHandlers(store, reg, logger).Register(app)

	port := cmd.Int("port")
	logger.InfoContext(ctx, "Starting observer API", "port", port)

	return app.Listen(fmt.Sprintf(":%d", port))
}
