package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonathan/web2pdf/internal/config"
	"github.com/jonathan/web2pdf/internal/pdfdoc"
	"github.com/jonathan/web2pdf/internal/server"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that exposes the conversion, metadata, download and history endpoints.

Requires JWT_SECRET. DATABASE_URL enables conversion history and REDIS_URL shares rate limits
between instances.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config and PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	jwtConfig, err := config.NewJWTConfig()
	if err != nil {
		return fmt.Errorf("failed to load JWT config: %w", err)
	}

	rt, err := newApp(ctx, cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer rt.Close()

	limiter, err := rt.rateLimiter()
	if err != nil {
		return err
	}

	deps := server.Deps{
		Config:      cfg.Server,
		Converter:   rt.orchestrator(),
		Store:       rt.store,
		Annotator:   pdfdoc.NewAnnotator(),
		Auth:        server.NewJWTService(jwtConfig).AsTokenValidator(),
		RateLimiter: limiter,
		Janitor:     rt.janitor(),
		Metrics:     rt.metrics,
		Logger:      rt.logger,
	}
	if rt.history != nil {
		deps.History = rt.history
	}

	srv, err := server.New(deps)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Start(ctx)
}
