package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pders01/git-rewind/internal/config"
	"github.com/pders01/git-rewind/internal/models"
	"github.com/pders01/git-rewind/internal/retention"
	"github.com/pders01/git-rewind/internal/timeline"
)

var (
	deleteAll bool
	deleteYes bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete <target>...",
	Short: "Delete snapshots of the current branch",
	Long: `Delete snapshots by ordinal, ref, suffix or abbreviated id, or every
snapshot of the current branch with --all.

Nothing is deleted without --yes; the command lists what it would remove.

Example:
  rewind delete 3 4
  rewind delete --all --yes`,
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().BoolVar(&deleteAll, "all", false, "Delete every snapshot of the current branch")
	deleteCmd.Flags().BoolVar(&deleteYes, "yes", false, "Confirm deletion")
}

func runDelete(cmd *cobra.Command, args []string) error {
	if deleteAll == (len(args) > 0) {
		return fmt.Errorf("give either snapshot targets or --all")
	}

	repo, err := openRepo()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	settings := config.Load()
	index := timeline.New(repo, settings.Namespace, settings.NotesRef)
	manager := retention.New(repo, index)

	line, err := repo.CurrentBranch(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current branch: %w", err)
	}

	if !deleteYes {
		var preview []models.SnapshotInfo
		if deleteAll {
			preview, err = index.List(ctx, line)
		} else {
			for _, target := range args {
				info, rerr := index.Resolve(ctx, line, target)
				if rerr != nil {
					return rerr
				}
				preview = append(preview, info)
			}
		}
		if err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}
		if len(preview) == 0 {
			fmt.Println("No snapshots to delete")
			return nil
		}
		fmt.Printf("Would delete %d snapshot(s):\n", len(preview))
		for _, s := range preview {
			fmt.Printf("  %3d  %s  %s\n", s.Ordinal, s.ShortID(), s.Message)
		}
		fmt.Println("\nRe-run with --yes to delete them.")
		return nil
	}

	var deleted []models.SnapshotInfo
	if deleteAll {
		deleted, err = manager.DeleteAll(ctx, line)
	} else {
		deleted, err = manager.Delete(ctx, line, args...)
	}
	if err != nil && len(deleted) == 0 {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Printf("✓ Deleted %d snapshot(s)\n", len(deleted))
	if err != nil {
		return fmt.Errorf("delete incomplete: %w", err)
	}
	return nil
}
