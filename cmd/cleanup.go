package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pders01/git-rewind/internal/config"
	"github.com/pders01/git-rewind/internal/retention"
	"github.com/pders01/git-rewind/internal/timeline"
)

var (
	cleanupForce bool
	cleanupJSON  bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove snapshots of branches that no longer exist",
	Long: `Remove snapshots whose branch has been deleted. Snapshots taken on a
detached HEAD are always kept.

Without --force this only shows what would be removed.

Example:
  rewind cleanup            # Show orphaned snapshots
  rewind cleanup --force    # Delete them`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().BoolVar(&cleanupForce, "force", false, "Actually delete orphaned snapshots")
	cleanupCmd.Flags().BoolVar(&cleanupJSON, "json", false, "Output as JSON")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	repo, err := openRepo()
	if err != nil {
		return err
	}
	settings := config.Load()
	manager := retention.New(repo, timeline.New(repo, settings.Namespace, settings.NotesRef))

	report, err := manager.Cleanup(commandContext(cmd), cleanupForce)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	if done, err := emit(report, cleanupJSON, false); done {
		return err
	}

	if len(report.Orphaned) == 0 {
		fmt.Printf("No orphaned snapshots (%d kept)\n", report.Kept)
		return nil
	}

	fmt.Printf("Orphaned snapshots (%d):\n\n", len(report.Orphaned))
	for _, s := range report.Orphaned {
		fmt.Printf("  %s\n", s.Ref)
		fmt.Printf("    Age:     %s\n", formatDuration(time.Since(s.CreatedAt)))
		fmt.Printf("    Message: %s\n", s.Message)
	}
	fmt.Println()

	if report.DryRun {
		fmt.Println("This is a dry run. Use --force to actually delete snapshots.")
		return nil
	}

	for _, ref := range report.Failed {
		fmt.Printf("  Skipped %s: ref changed since it was listed\n", ref)
	}
	fmt.Printf("✓ Deleted %d snapshot(s), %d kept\n", len(report.Deleted), report.Kept)
	return nil
}
