package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aretw0/docsync"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list [namespace]",
	Short: "List namespaces, or the documents of one namespace",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		engine, err := docsync.New(resolveDataDir(),
			docsync.WithMustExist(true),
			docsync.WithWatch(false),
			docsync.WithLogger(slog.Default()),
		)
		if err != nil {
			fatal("Error initializing engine", err)
		}
		ctx := context.Background()

		var names []string
		if len(args) == 0 {
			names, err = engine.Service.Namespaces(ctx)
		} else {
			names, err = engine.Service.List(ctx, args[0])
		}
		if err != nil {
			fatal("Error listing", err)
		}

		if listJSON {
			printJSON(names)
			return
		}
		for _, name := range names {
			fmt.Println(name)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
}
