package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scriblatex/modelfetch/internal/contentcache"
	"github.com/scriblatex/modelfetch/internal/output"
)

func newInspectCmd() *cobra.Command {
	var expectedSize int64
	var expectedChecksum string

	cmd := &cobra.Command{
		Use:   "inspect [URL]",
		Short: "Verify a cached artifact's size and checksum",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			url := args[0]
			if err := validateURL(url); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}

			cfg := loadConfig()
			sched, err := buildScheduler(cfg)
			if err != nil {
				output.PrintError(fmt.Sprintf("failed to initialize: %v", err))
				os.Exit(1)
			}

			status, err := sched.CheckIntegrity(url, expectedSize, expectedChecksum)
			if err != nil {
				output.PrintError(fmt.Sprintf("integrity check failed: %v", err))
				os.Exit(1)
			}

			switch status {
			case contentcache.IntegrityOK:
				output.PrintSuccess(fmt.Sprintf("%s: ok", url))
			case contentcache.IntegrityMissing:
				output.PrintWarning(fmt.Sprintf("%s: not in cache", url))
				os.Exit(1)
			default:
				output.PrintError(fmt.Sprintf("%s: %s", url, status))
				os.Exit(1)
			}
		},
	}
	cmd.Flags().Int64Var(&expectedSize, "size", 0, "Expected size in bytes (0 skips the check)")
	cmd.Flags().StringVar(&expectedChecksum, "sha256", "", "Expected sha256 checksum (empty skips the check)")
	return cmd
}
