package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pders01/git-rewind/internal/config"
	"github.com/pders01/git-rewind/internal/travel"
)

var travelCmd = &cobra.Command{
	Use:   "travel <ordinal|id>",
	Short: "Restore the work tree to a snapshot",
	Long: `Restore the work tree to the state captured by a snapshot.

The current state is saved as a new snapshot first, so travel can always be
undone by traveling to that safety snapshot. Files absent from the target are
removed. The index and HEAD are left alone; 'git status' afterwards shows the
restored state as local changes.

Example:
  rewind travel 2`,
	Args: cobra.ExactArgs(1),
	RunE: runTravel,
}

func init() {
	rootCmd.AddCommand(travelCmd)
}

func runTravel(cmd *cobra.Command, args []string) error {
	repo, err := openRepo()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	eng := newEngine(config.Load())

	guard, err := eng.Guard(ctx, repo)
	if err != nil {
		return err
	}

	res, err := travel.New(repo, eng.Index(repo), eng.Writer(repo), guard, eng.MaxWait()).Travel(ctx, args[0])
	if err != nil {
		return fmt.Errorf("travel failed: %w", err)
	}

	if !res.Safety.NoOp {
		fmt.Printf("Saved current state: %s\n", res.Safety.Ref.Name)
	}
	fmt.Printf("✓ Restored %s (%s)\n", res.Target.Ref, res.Target.ShortID())
	fmt.Printf("  %d files written, %d removed\n", res.Restored, res.Removed)
	return nil
}
