package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scriblatex/modelfetch/internal/output"
	"github.com/scriblatex/modelfetch/internal/scheduler"
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [URL...]",
		Short: "Acquire one or more model artifact URLs into the content cache",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			for _, u := range args {
				if err := validateURL(u); err != nil {
					output.PrintError(err.Error())
					os.Exit(1)
				}
			}

			cfg := loadConfig()
			sched, err := buildScheduler(cfg)
			if err != nil {
				output.PrintError(fmt.Sprintf("failed to initialize: %v", err))
				os.Exit(1)
			}

			failed := runAcquisitions(sched, args)
			if failed {
				os.Exit(1)
			}
		},
	}
	return cmd
}

// runAcquisitions drives urls through sched with a live display,
// returning true if any acquisition failed.
func runAcquisitions(sched *scheduler.Scheduler, urls []string) bool {
	mgr := output.NewManager()
	mgr.StartDisplay()

	type outcome struct {
		url string
		err error
	}
	ids := make(map[string]string, len(urls))
	done := make(chan outcome, len(urls))

	for _, u := range urls {
		id := mgr.Register(u)
		ids[u] = id
		mgr.SetStatus(id, "running")

		go func(url, id string) {
			stop := make(chan struct{})
			go pollProgress(mgr, sched, url, id, stop)

			res := <-sched.Acquire(url)
			close(stop)
			done <- outcome{url: url, err: res.Err}
		}(u, id)
	}

	var failed bool
	for range urls {
		o := <-done
		id := ids[o.url]
		if o.err != nil {
			mgr.ReportError(id, o.err)
			failed = true
		} else {
			mgr.Complete(id, "")
		}
	}

	mgr.StopDisplay()
	return failed
}

// pollProgress mirrors the teacher's ticker-driven progress callback
// (internal/downloaders/http/initial.go), but reads its numbers from
// scheduler.Snapshot() instead of a dedicated progress channel, since
// the scheduler already owns the authoritative Job for url.
func pollProgress(mgr *output.Manager, sched *scheduler.Scheduler, url, id string, stop <-chan struct{}) {
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, snap := range sched.Snapshot() {
				if snap.URL == url {
					mgr.SetProgress(id, snap.Loaded, snap.Total, snap.Speed)
					break
				}
			}
		}
	}
}
