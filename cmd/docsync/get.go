package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/docsync"
)

var (
	getJSON bool
	getPath string
)

var getCmd = &cobra.Command{
	Use:   "get [namespace] [name]",
	Short: "Print a document",
	Long: `Print a document. Outputs the raw YAML by default, the parsed value
with --json, or the values selected by a JSONPath expression with --path.`,
	Args: cobra.ExactArgs(2),
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

		if getPath != "" {
			results, err := engine.Service.Query(ctx, args[0], args[1], getPath)
			if err != nil {
				fatal("Error querying document", err)
			}
			printJSON(results)
			return
		}

		doc, err := engine.Service.Get(ctx, args[0], args[1])
		if err != nil {
			fatal("Error reading document", err)
		}
		if getJSON {
			printJSON(doc.Data)
			return
		}
		fmt.Print(string(doc.Raw))
	},
}

func printJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fatal("Error encoding JSON", err)
	}
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().BoolVar(&getJSON, "json", false, "Output the parsed document as JSON")
	getCmd.Flags().StringVar(&getPath, "path", "", "JSONPath expression to evaluate against the document")
}
