package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version and GitCommit are overridden at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the groupcore version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("groupcore %s (%s)\n", Version, GitCommit)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
