package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scriblatex/modelfetch/internal/output"
)

// ManifestEntry is one model artifact to acquire, grounded on the
// teacher's BatchEntry (cmd/batch.go) but without a JobType field —
// this repo only ever fetches HTTP(S) artifacts.
type ManifestEntry struct {
	URL      string `yaml:"url"`
	Checksum string `yaml:"checksum,omitempty"`
}

// Manifest groups entries the way transformers-cli download manifests
// group model files under a repo id.
type Manifest map[string][]ManifestEntry

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [MANIFEST_FILE]",
		Short: "Acquire every URL listed in a YAML manifest",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				output.PrintError(fmt.Sprintf("reading manifest: %v", err))
				os.Exit(1)
			}
			var manifest Manifest
			if err := yaml.Unmarshal(data, &manifest); err != nil {
				output.PrintError(fmt.Sprintf("parsing manifest: %v", err))
				os.Exit(1)
			}

			var urls []string
			for group, entries := range manifest {
				for _, e := range entries {
					if e.URL == "" {
						fmt.Fprintf(os.Stderr, "warning: empty URL in %s section, skipping\n", group)
						continue
					}
					if err := validateURL(e.URL); err != nil {
						fmt.Fprintf(os.Stderr, "warning: %s: %v, skipping\n", e.URL, err)
						continue
					}
					urls = append(urls, e.URL)
				}
			}
			if len(urls) == 0 {
				output.PrintError("no valid URLs found in manifest")
				os.Exit(1)
			}

			cfg := loadConfig()
			sched, err := buildScheduler(cfg)
			if err != nil {
				output.PrintError(fmt.Sprintf("failed to initialize: %v", err))
				os.Exit(1)
			}

			if runAcquisitions(sched, urls) {
				os.Exit(1)
			}
		},
	}
	return cmd
}
