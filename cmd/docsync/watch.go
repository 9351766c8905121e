package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/docsync"
	"github.com/aretw0/docsync/internal/platform"
	source "github.com/aretw0/docsync/pkg/adapters/lifecycle"
	"github.com/aretw0/docsync/pkg/core"
)

var (
	watchPattern    string
	watchNamespaces []string
	watchKinds      []string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print changes made to the data directory",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		repo, err := docsync.Init(resolveDataDir(),
			docsync.WithMustExist(true),
			docsync.WithWatchPattern(watchPattern),
			docsync.WithLogger(slog.Default()),
		)
		if err != nil {
			fatal("Error initializing repository", err)
		}
		w, ok := repo.(platform.Watchable)
		if !ok {
			fatal("Error starting watcher", fmt.Errorf("%T cannot watch", repo))
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events, err := w.Watch(ctx)
		if err != nil {
			fatal("Error starting watcher", err)
		}
		var filters []source.SourceOption
		if len(watchNamespaces) > 0 {
			filters = append(filters, source.WithNamespaces(watchNamespaces...))
		}
		for _, k := range watchKinds {
			kind := core.EventKind(strings.ToUpper(k))
			if kind != core.EventUpdated && kind != core.EventDeleted {
				fatal("Error parsing flags", fmt.Errorf("unknown change kind %q", k))
			}
			filters = append(filters, source.WithKinds(kind))
		}
		src := source.NewSource(events, filters...)
		if err := src.Start(ctx); err != nil {
			fatal("Error starting watcher", err)
		}
		for e := range src.Events() {
			fmt.Println(e.String())
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchPattern, "pattern", "", "Glob of watched files, relative to the data directory")
	watchCmd.Flags().StringSliceVarP(&watchNamespaces, "namespace", "n", nil, "Only print changes in these namespaces")
	watchCmd.Flags().StringSliceVar(&watchKinds, "kind", nil, "Only print changes of these kinds (updated, deleted)")
}
