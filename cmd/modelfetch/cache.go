package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scriblatex/modelfetch/internal/output"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Report statistics about the content cache",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			sched, err := buildScheduler(cfg)
			if err != nil {
				output.PrintError(fmt.Sprintf("failed to initialize: %v", err))
				os.Exit(1)
			}

			stats, err := sched.CacheStats()
			if err != nil {
				output.PrintError(fmt.Sprintf("reading cache stats: %v", err))
				os.Exit(1)
			}

			table := output.NewTable([]string{"Cache", "Entries", "Total Bytes"})
			table.AddRow(cfg.CacheName, fmt.Sprint(stats.EntryCount), fmt.Sprint(stats.TotalBytes))
			table.Print()
		},
	}
	return cmd
}
