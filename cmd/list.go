package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pders01/git-rewind/internal/config"
	"github.com/pders01/git-rewind/internal/models"
	"github.com/pders01/git-rewind/internal/timeline"
)

var (
	listAll     bool
	listSince   string
	listSession string
	listJSON    bool
	listToon    bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots of the current branch",
	Long: `List snapshots newest first. The number in the first column is the
ordinal that travel, show and delete accept.

Examples:
  rewind list
  rewind list --since 2026-10-01
  rewind list --since 2h --session 4f1c...
  rewind list --all --json`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVar(&listAll, "all", false, "List snapshots of every branch")
	listCmd.Flags().StringVar(&listSince, "since", "", "Only snapshots since a date (YYYY-MM-DD) or duration (2h)")
	listCmd.Flags().StringVar(&listSession, "session", "", "Only snapshots of one session")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
	listCmd.Flags().BoolVar(&listToon, "toon", false, "Output in LLM-friendly toon format")
}

// parseSince accepts a calendar date or a duration relative to now
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since value (use YYYY-MM-DD or a duration like 2h): %w", err)
	}
	return t, nil
}

func runList(cmd *cobra.Command, args []string) error {
	repo, err := openRepo()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	settings := config.Load()
	index := timeline.New(repo, settings.Namespace, settings.NotesRef)

	since, err := parseSince(listSince, time.Now())
	if err != nil {
		return err
	}

	var snapshots []models.SnapshotInfo
	if listAll {
		snapshots, err = index.ListAll(ctx)
	} else {
		var line string
		if line, err = repo.CurrentBranch(ctx); err != nil {
			return fmt.Errorf("failed to get current branch: %w", err)
		}
		snapshots, err = index.List(ctx, line)
	}
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}

	snapshots = timeline.Filter{Since: since, Session: listSession}.Apply(snapshots)

	if done, err := emit(snapshots, listJSON, listToon); done {
		return err
	}

	if len(snapshots) == 0 {
		fmt.Println("No snapshots found")
		return nil
	}

	fmt.Printf("Found %d snapshot(s):\n\n", len(snapshots))
	for _, s := range snapshots {
		fmt.Printf("  %3d  %s  %s", s.Ordinal, s.ShortID(), s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if listAll {
			fmt.Printf("  [%s]", s.Line)
		}
		fmt.Printf("  %s\n", s.Message)
		if s.Metadata != nil && s.Metadata.Tool != "" {
			fmt.Printf("       %s %s\n", s.Metadata.Tool, s.Metadata.File)
		}
	}

	return nil
}
