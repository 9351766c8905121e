package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/docsync"
)

var (
	serveAddr    string
	serveSchemas string
	serveRedis   string
	serveNoWatch bool
	serveRO      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the data directory over HTTP and WebSocket",
	Long: `Serve the JSON API, the schema files and the live channel (/ws).
Settings come from DOCSYNC_* environment variables; flags take precedence.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := platformConfig()
		if serveAddr != "" {
			cfg.Addr = serveAddr
		}
		if serveSchemas != "" {
			cfg.SchemaDir = serveSchemas
		}
		if serveRedis != "" {
			cfg.RedisURL = serveRedis
		}

		opts := append(cfg.Options(),
			docsync.WithLogger(slog.Default()),
			docsync.WithWatch(!serveNoWatch),
			docsync.WithReadOnly(serveRO),
		)
		engine, err := docsync.New(resolveDataDir(), opts...)
		if err != nil {
			fatal("Error initializing engine", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := engine.ListenAndServe(ctx, cfg.Addr); err != nil {
			fatal("Server failed", err)
		}
		slog.Info("server stopped")
	},
}

func platformConfig() docsync.Config {
	return docsync.LoadConfig()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to DOCSYNC_ADDR or :3001)")
	serveCmd.Flags().StringVar(&serveSchemas, "schemas", "", "Schema directory")
	serveCmd.Flags().StringVar(&serveRedis, "redis", "", "Redis URL for cross-instance fan-out")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not watch the data directory for external edits")
	serveCmd.Flags().BoolVar(&serveRO, "read-only", false, "Refuse every write")
}
