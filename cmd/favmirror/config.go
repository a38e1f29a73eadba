package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"favmirror/pkg/config"
	"favmirror/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage favmirror configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (FAVMIRROR_*, also read from .env)
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as '.favmirror.yaml'
unless a different path is specified with the --config flag.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the configuration resulting from all sources. The cookie is
masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# favmirror configuration
#
# Every value can also be set with a FAVMIRROR_ environment variable,
# for example FAVMIRROR_GALLERY_URL or FAVMIRROR_STORE_URL.

gallery:
  # Root of the gallery site (required)
  base_url: ""
  # Cookie header sent with every gallery request (optional)
  cookie: ""
  # user_agent: "Mozilla/5.0 ..."
  timeout: 60s

store:
  # Local mirror server
  url: "http://localhost:34343"
  timeout: 60s

# Shared delay applied before every gallery request. Failures multiply it
# by growth_factor; every success_streak successes multiply it by
# decay_factor.
backoff:
  base_delay: 100ms
  jitter: 30ms
  growth_factor: 2.0
  decay_factor: 0.9
  success_streak: 5
  max_delay: 5m
  # Attempts per request before giving up
  max_retries: 5

# Optional hard ceiling; 0 disables it
rate_limit:
  requests_per_minute: 0
  burst_size: 1

sync:
  # Favorites per listing page on the gallery
  page_size: 50
  # Minimum depth of an incremental sync
  safety_margin: 500

journal:
  enabled: true
  # Defaults to ~/.local/share/favmirror/journal.db
  # path: /var/lib/favmirror/journal.db

metrics:
  # e.g. ":9090" to serve /metrics
  address: ""

logging:
  # debug, info, warn, error
  level: "info"
  # Optional log file in addition to stderr
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".favmirror.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Fprintln(cmd.OutOrStdout(), "\nNext steps:")
	fmt.Fprintln(cmd.OutOrStdout(), "1. Set gallery.base_url")
	fmt.Fprintln(cmd.OutOrStdout(), "2. Run 'favmirror config validate' to check the configuration")
	fmt.Fprintln(cmd.OutOrStdout(), "3. Start mirroring with 'favmirror sync <userID>'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Resolve(configFile, flagOverrides(cmd))
	if err != nil {
		return err
	}

	display := *cfg
	display.Gallery.Cookie = maskSecret(display.Gallery.Cookie)

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Resolve(configFile, flagOverrides(cmd))
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		ui.PrintError("Configuration has errors:")
		for _, line := range joinedErrors(err) {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", line)
		}
		return errors.New("configuration is invalid")
	}

	ui.PrintSuccess("Configuration is valid")

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nConfiguration summary:")
	fmt.Fprintf(out, "  Gallery: %s\n", cfg.Gallery.BaseURL)
	fmt.Fprintf(out, "  Store: %s\n", cfg.Store.URL)
	fmt.Fprintf(out, "  Max retries: %d\n", cfg.Backoff.MaxRetries)
	fmt.Fprintf(out, "  Rate limit: %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
	if cfg.Journal.Enabled {
		fmt.Fprintf(out, "  Journal: %s\n", cfg.Journal.Path)
	} else {
		fmt.Fprintln(out, "  Journal: disabled")
	}
	fmt.Fprintf(out, "  Log level: %s\n", cfg.Logging.Level)
	return nil
}

// joinedErrors splits an errors.Join result into its parts
func joinedErrors(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var lines []string
		for _, e := range joined.Unwrap() {
			lines = append(lines, e.Error())
		}
		return lines
	}
	return strings.Split(err.Error(), "\n")
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "***"
	}
}
