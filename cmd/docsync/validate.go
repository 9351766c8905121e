package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/docsync/pkg/adapters/fs"
	"github.com/aretw0/docsync/pkg/schema"
)

var validateJSON bool

var validateCmd = &cobra.Command{
	Use:   "validate [document] [schema]",
	Short: "Check a YAML document against a schema file",
	Long: `Check a YAML document against a declarative (.yaml) or JSON Schema (.json)
file. Every violation is printed; the exit status is 1 when there is any.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			fatal("Error reading document", err)
		}
		data, err := fs.NewYAMLCodec().Decode(raw)
		if err != nil {
			fatal("Document is not valid YAML", err)
		}
		sch, err := schema.LoadFile(args[1])
		if err != nil {
			fatal("Error loading schema", err)
		}

		errs := schema.Check(data, sch)
		if validateJSON {
			printJSON(errs)
		} else {
			for _, fe := range errs {
				fmt.Println(fe.Message)
			}
		}
		if len(errs) > 0 {
			os.Exit(1)
		}
		if !validateJSON {
			fmt.Printf("%s is valid (%s schema)\n", args[0], sch.Kind)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output violations in JSON format")
}
