package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"favmirror/pkg/ui"
)

var (
	// Version information
	version   = "0.3.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile        string
	logLevel          string
	noColor           bool
	quiet             bool
	galleryURL        string
	storeURL          string
	metricsAddr       string
	requestsPerMinute int
	maxRetries        int
	noJournal         bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "favmirror",
	Short: "Mirror gallery favorites into a local store",
	Long: `favmirror copies a user's favorites from a gallery site into a local
mirror server, uploading only what the mirror does not have yet.

Features:
  - Incremental sync that scans only as deep as the estimated gap
  - Full sync that re-checks the whole favorites listing
  - Adaptive backoff shared by every request
  - Resumable full syncs via a local run journal
  - Prometheus metrics`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Output = cmd.OutOrStdout()
		if noColor {
			ui.SetColorMode(false)
		}
		if quiet {
			ui.SetQuietMode(true)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.favmirror.yaml or ~/.config/favmirror/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().StringVar(&galleryURL, "gallery-url", "", "base URL of the gallery site")
	rootCmd.PersistentFlags().StringVar(&storeURL, "store-url", "", "base URL of the local mirror server")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().IntVar(&requestsPerMinute, "requests-per-minute", 0, "hard request ceiling on top of the backoff (0 disables)")
	rootCmd.PersistentFlags().IntVar(&maxRetries, "max-retries", 0, "attempts per request before giving up")
	rootCmd.PersistentFlags().BoolVar(&noJournal, "no-journal", false, "do not record runs in the journal")

	// Version template
	rootCmd.SetVersionTemplate(`favmirror {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// flagOverrides collects the flags the user set explicitly, keyed the way
// config.MergeCommandLineFlags expects
func flagOverrides(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	changed := func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}

	if changed("gallery-url") {
		flags["gallery-url"] = galleryURL
	}
	if changed("store-url") {
		flags["store-url"] = storeURL
	}
	if changed("metrics-addr") {
		flags["metrics-addr"] = metricsAddr
	}
	if changed("requests-per-minute") {
		flags["requests-per-minute"] = requestsPerMinute
	}
	if changed("max-retries") {
		flags["max-retries"] = maxRetries
	}
	if changed("no-journal") {
		flags["journal"] = !noJournal
	}
	if changed("log-level") {
		flags["log-level"] = logLevel
	}
	if quiet && !changed("log-level") {
		flags["log-level"] = "error"
	}
	return flags
}
