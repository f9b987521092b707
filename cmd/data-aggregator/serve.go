package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/data-aggregator/internal/api/http"
	"github.com/i474232898/data-aggregator/internal/scheduler"
	"github.com/i474232898/data-aggregator/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the fetch scheduler (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scheduler that periodically fetches and stores data.
	sched := scheduler.New(a.service, a.jobs,
		scheduler.WithJobTimeout(2*cfg.HTTPTimeout),
		scheduler.WithRetention(cfg.RetentionMaxAge, cfg.RetentionInterval))
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	if cfg.FetchOnStartup {
		go a.service.FetchAll(ctx)
	}

	server := newServer(a)
	go func() {
		if err := server.Listen(":" + cfg.Port); err != nil {
			a.log.Error(ctx, "fiber server stopped", logger.Error(err))
			stop()
		}
	}()
	a.log.Info(ctx, "listening", logger.String("port", cfg.Port))

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		a.log.Error(shutdownCtx, "error during shutdown", logger.Error(err))
	}
	return nil
}

func newServer(a *app) *fiber.App {
	server := fiber.New(fiber.Config{
		AppName:               "data-aggregator",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Manual fetches wait for the upstream call.
		WriteTimeout: 2 * a.cfg.HTTPTimeout,
		ErrorHandler: httpapi.ErrorHandler,
	})

	// Global middleware
	server.Use(requestid.New())
	server.Use(fiberlogger.New())
	server.Use(recover.New())
	server.Use(cors.New(cors.Config{AllowOrigins: strings.Join(a.cfg.Origins(), ",")}))

	server.Get("/health", func(c *fiber.Ctx) error {
		status := "ok"
		if err := a.ping(c.UserContext()); err != nil {
			status = "degraded"
		}
		return c.JSON(fiber.Map{
			"status":  status,
			"service": "data-aggregator",
			"storage": a.storage,
			"sources": a.service.Registry().Names(),
		})
	})
	server.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))

	httpapi.RegisterRoutes(server, a.service, a.cfg.APIPrefix)
	return server
}
