package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/logger"
	"github.com/soundprediction/chronograph/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chronograph HTTP server",
	Long: `Start the chronograph HTTP server.

The server exposes endpoints for ingesting episodes (plain or conversational),
hybrid search over facts, entities, and episodes, manual edge correction,
episode deletion, and health checks.`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	serveCmd.Flags().String("graph-driver", "", "graph driver (memory, neo4j)")
	serveCmd.Flags().String("ontology", "", "path to a custom ontology YAML")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if v, _ := cmd.Flags().GetString("graph-driver"); v != "" {
		cfg.Graph.Driver = v
	}
	if v, _ := cmd.Flags().GetString("ontology"); v != "" {
		cfg.Ontology.Path = v
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	client, err := chronograph.NewFromConfig(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := client.CreateIndices(ctx); err != nil {
		cancel()
		return fmt.Errorf("create indices: %w", err)
	}
	cancel()

	srv := server.New(cfg, client, log)
	srv.Setup()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("stopping server", "error", err)
	}
	return client.Close(shutdownCtx)
}
