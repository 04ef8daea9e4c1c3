package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scriblatex/modelfetch/internal/output"
)

func newCleanCmd() *cobra.Command {
	var all bool
	var stale time.Duration

	cmd := &cobra.Command{
		Use:   "clean [URL...]",
		Short: "Remove cached and partially downloaded state for the given URLs",
		Args:  cobra.ArbitraryArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if stale > 0 {
				cfg := loadConfig()
				sched, err := buildScheduler(cfg)
				if err != nil {
					output.PrintError(fmt.Sprintf("failed to initialize: %v", err))
					os.Exit(1)
				}
				pruned, err := sched.PruneStale(stale)
				if err != nil {
					output.PrintError(fmt.Sprintf("prune failed: %v", err))
					os.Exit(1)
				}
				output.PrintSuccess(fmt.Sprintf("pruned %d abandoned resource(s) older than %s", pruned, stale))
				return
			}

			if !all && len(args) == 0 {
				output.PrintError("specify one or more URLs, or pass --stale")
				os.Exit(1)
			}

			cfg := loadConfig()
			sched, err := buildScheduler(cfg)
			if err != nil {
				output.PrintError(fmt.Sprintf("failed to initialize: %v", err))
				os.Exit(1)
			}

			if all {
				fmt.Fprintln(os.Stderr, "warning: --all is not yet supported without a URL index; pass explicit URLs or --stale")
				os.Exit(1)
			}

			var failed bool
			for _, u := range args {
				if err := sched.Delete(u); err != nil {
					output.PrintError(fmt.Sprintf("%s: %v", u, err))
					failed = true
					continue
				}
				output.PrintSuccess(fmt.Sprintf("cleaned %s", u))
			}
			if failed {
				os.Exit(1)
			}
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Clean every cached entry (not yet supported)")
	cmd.Flags().DurationVar(&stale, "stale", 0, "Prune chunk store resources untouched for longer than this duration")
	return cmd
}
