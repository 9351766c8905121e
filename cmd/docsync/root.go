package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose bool
	dataDir string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docsync",
	Short: "A live document store for YAML files on disk",
	Long: `docsync serves a directory of YAML documents over a JSON API,
validates writes against per-resource schemas and pushes every change,
including edits made directly on disk, to connected viewers.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data", "d", "", "Data directory (defaults to DOCSYNC_DATA_DIR or ./data)")
}

// resolveDataDir prefers the flag, then the environment.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	return platformConfig().DataDir
}
