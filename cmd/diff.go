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
	diffJSON bool
	diffToon bool
)

var diffCmd = &cobra.Command{
	Use:   "diff <target1> [target2]",
	Short: "Compare two snapshots",
	Long: `Compare two snapshots of the current branch and show:
  - Files changed between them
  - Time between the captures
  - Whether they belong to the same session

With one target the snapshot is compared against HEAD.

Example:
  rewind diff 3 1
  rewind diff 2 --json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)

	diffCmd.Flags().BoolVar(&diffJSON, "json", false, "Output as JSON")
	diffCmd.Flags().BoolVar(&diffToon, "toon", false, "Output in LLM-friendly toon format")
}

type snapshotDiff struct {
	From           snapshotSummary   `json:"from"`
	To             snapshotSummary   `json:"to"`
	TimeDifference string            `json:"time_difference,omitempty"`
	SameSession    bool              `json:"same_session"`
	Changes        []models.FileStat `json:"changes"`
}

type snapshotSummary struct {
	Ref       string    `json:"ref"`
	Commit    string    `json:"commit"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Message   string    `json:"message,omitempty"`
	Session   string    `json:"session,omitempty"`
}

func summarize(info models.SnapshotInfo) snapshotSummary {
	s := snapshotSummary{
		Ref:       info.Ref,
		Commit:    info.ID,
		CreatedAt: info.CreatedAt,
		Message:   info.Message,
	}
	if info.Metadata != nil {
		s.Session = info.Metadata.SessionID
	}
	return s
}

func runDiff(cmd *cobra.Command, args []string) error {
	repo, err := openRepo()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	settings := config.Load()
	index := timeline.New(repo, settings.Namespace, settings.NotesRef)

	line, err := repo.CurrentBranch(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current branch: %w", err)
	}

	from, err := index.Resolve(ctx, line, args[0])
	if err != nil {
		return err
	}

	diff := &snapshotDiff{From: summarize(from)}
	if len(args) == 2 {
		to, err := index.Resolve(ctx, line, args[1])
		if err != nil {
			return err
		}
		diff.To = summarize(to)

		gap := to.CreatedAt.Sub(from.CreatedAt)
		if gap < 0 {
			diff.TimeDifference = fmt.Sprintf("%s (target2 is older)", formatDuration(-gap))
		} else {
			diff.TimeDifference = fmt.Sprintf("%s (target2 is newer)", formatDuration(gap))
		}
		diff.SameSession = diff.From.Session != "" && diff.From.Session == diff.To.Session
	} else {
		head, err := repo.HeadCommit(ctx)
		if err != nil {
			return err
		}
		if head == "" {
			return fmt.Errorf("HEAD has no commits to compare against")
		}
		diff.To = snapshotSummary{Ref: "HEAD", Commit: head}
	}

	diff.Changes, err = repo.DiffNumstat(ctx, diff.From.Commit, diff.To.Commit)
	if err != nil {
		return fmt.Errorf("failed to diff snapshots: %w", err)
	}

	if done, err := emit(diff, diffJSON, diffToon); done {
		return err
	}

	fmt.Println("Snapshot Comparison")
	fmt.Println("━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("From: %s (%s)\n", diff.From.Ref, diff.From.Commit[:8])
	fmt.Printf("To:   %s (%s)\n", diff.To.Ref, diff.To.Commit[:8])
	fmt.Println()

	if diff.TimeDifference != "" {
		fmt.Printf("Time Difference: %s\n", diff.TimeDifference)
		if diff.SameSession {
			fmt.Printf("Session: %s (unchanged)\n", diff.From.Session)
		}
		fmt.Println()
	}

	if len(diff.Changes) == 0 {
		fmt.Println("No file changes")
		return nil
	}
	printChanges(diff.Changes)
	return nil
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%.1f days", d.Hours()/24)
	}
}
