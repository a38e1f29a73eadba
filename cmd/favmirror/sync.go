package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"favmirror/pkg/checkpoint"
	"favmirror/pkg/ui"
)

var resumeFullSync bool

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync <userID>",
	Short: "Upload favorites the local store is missing",
	Long: `Upload the favorites that the local store does not have yet.

The gap between the favorites count shown on the user's profile and the
number of posts in the store decides how deep the scan goes. The scan
always covers at least the newest 500 favorites because the listing
shifts as new favorites arrive.`,
	Example: `  # Catch up on new favorites
  favmirror sync 12345

  # Against a store on another port
  favmirror sync 12345 --store-url http://localhost:8080`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

// fullSyncCmd represents the full-sync command
var fullSyncCmd = &cobra.Command{
	Use:   "full-sync <userID>",
	Short: "Check every favorite and upload what is missing",
	Long: `Walk the user's whole favorites listing and upload every post the
local store does not have. Use this when an incremental sync may have
missed older favorites.

An interrupted full sync is recorded in the journal and can be continued
with --resume.`,
	Example: `  # Check everything
  favmirror full-sync 12345

  # Continue the last interrupted full sync
  favmirror full-sync 12345 --resume`,
	Args: cobra.ExactArgs(1),
	RunE: runFullSync,
}

// addCmd represents the add command
var addCmd = &cobra.Command{
	Use:   "add <postID>",
	Short: "Mirror a single post",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <userID>",
	Short: "Show favorites count, stored count and recent runs",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	fullSyncCmd.Flags().BoolVar(&resumeFullSync, "resume", false, "continue the latest interrupted full sync")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(fullSyncCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(statusCmd)
}

// parseID parses a positive numeric id argument
func parseID(kind, raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive number", kind, raw)
	}
	return id, nil
}

func runSync(cmd *cobra.Command, args []string) error {
	userID, err := parseID("user id", args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.context(cmd)
	defer cancel()

	total, err := a.gallery.FavoritesCount(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to read favorites count: %w", err)
	}
	stored, err := a.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stored count: %w", err)
	}

	ui.PrintInfo("Favorites", strconv.Itoa(total))
	ui.PrintInfo("Stored", strconv.Itoa(stored))

	printer := ui.NewProgressPrinter(cmd.OutOrStdout(), "sync")
	if _, err := a.syncer(printer).Sync(ctx, userID, total, stored); err != nil {
		printer.Abort()
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

func runFullSync(cmd *cobra.Command, args []string) error {
	userID, err := parseID("user id", args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.context(cmd)
	defer cancel()

	printer := ui.NewProgressPrinter(cmd.OutOrStdout(), "full sync")
	s := a.syncer(printer)

	if resumeFullSync {
		if a.journal == nil {
			return errors.New("--resume needs the journal, which is disabled")
		}
		run, err := a.journal.Latest(checkpoint.StrategyFull, userID)
		if errors.Is(err, checkpoint.ErrNotFound) || (err == nil && !run.Resumable()) {
			return fmt.Errorf("no interrupted full sync for user %d", userID)
		}
		if err != nil {
			return fmt.Errorf("failed to read journal: %w", err)
		}

		ui.PrintInfo("Resuming", fmt.Sprintf("run %s at cursor %d (%d/%d)", run.ID, run.Cursor, run.CursorDownloaded, run.Goal))
		if _, err := s.ResumeFullSync(ctx, run); err != nil {
			printer.Abort()
			return fmt.Errorf("full sync failed: %w", err)
		}
		return nil
	}

	total, err := a.gallery.FavoritesCount(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to read favorites count: %w", err)
	}
	ui.PrintInfo("Favorites", strconv.Itoa(total))

	if _, err := s.FullSync(ctx, userID, total); err != nil {
		printer.Abort()
		if a.journal != nil {
			ui.PrintWarning(fmt.Sprintf("Continue later with: favmirror full-sync %d --resume", userID))
		}
		return fmt.Errorf("full sync failed: %w", err)
	}
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	postID, err := parseID("post id", args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.context(cmd)
	defer cancel()

	missing, err := a.store.Missing(ctx, []int{postID})
	if err != nil {
		return fmt.Errorf("failed to check store: %w", err)
	}
	if len(missing) == 0 {
		ui.PrintInfo("Already stored", fmt.Sprintf("post #%d", postID))
		return nil
	}

	if err := a.syncer(nil).SyncSingle(ctx, postID); err != nil {
		return fmt.Errorf("failed to mirror post #%d: %w", postID, err)
	}
	ui.PrintSuccess(fmt.Sprintf("Mirrored post #%d", postID))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	userID, err := parseID("user id", args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.context(cmd)
	defer cancel()

	total, err := a.gallery.FavoritesCount(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to read favorites count: %w", err)
	}
	stored, err := a.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stored count: %w", err)
	}

	ui.PrintInfo("Favorites", strconv.Itoa(total))
	ui.PrintInfo("Stored", strconv.Itoa(stored))
	ui.PrintInfo("Gap", strconv.Itoa(total-stored))

	if a.journal == nil {
		return nil
	}
	runs, err := a.journal.List(0)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	shown := 0
	for _, run := range runs {
		if run.UserID != userID {
			continue
		}
		if shown == 0 {
			ui.PrintHighlight("\nRecent runs")
		}
		ui.PrintInfo(run.StartedAt.Format("2006-01-02 15:04"), describeRun(run))
		if shown++; shown == 5 {
			break
		}
	}
	if shown == 0 {
		ui.PrintInfo("Recent runs", "none")
	}
	return nil
}

func describeRun(run *checkpoint.Run) string {
	switch run.State {
	case checkpoint.StateDone:
		return fmt.Sprintf("%s sync done: %s", run.Strategy, run.Message)
	case checkpoint.StateAborted:
		return fmt.Sprintf("%s sync aborted at %d/%d: %s", run.Strategy, run.Downloaded, run.Goal, run.Error)
	default:
		return fmt.Sprintf("%s sync running or interrupted at %d/%d", run.Strategy, run.Downloaded, run.Goal)
	}
}
