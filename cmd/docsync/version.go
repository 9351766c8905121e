package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/docsync"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of docsync",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("docsync version %s\n", strings.TrimSpace(docsync.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
