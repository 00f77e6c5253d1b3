package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pders01/git-rewind/internal/config"
	"github.com/pders01/git-rewind/internal/models"
	"github.com/pders01/git-rewind/internal/timeline"
)

var (
	showJSON bool
	showToon bool
)

var showCmd = &cobra.Command{
	Use:   "show <target>",
	Short: "Show one snapshot with its metadata and changes",
	Long: `Show a snapshot's metadata and per-file changes against HEAD.

A target is an ordinal from 'rewind list', a full ref, a ref suffix, or an
abbreviated commit id.

Example:
  rewind show 1
  rewind show 3f2a9c1e --json`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")
	showCmd.Flags().BoolVar(&showToon, "toon", false, "Output in LLM-friendly toon format")
}

func runShow(cmd *cobra.Command, args []string) error {
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
	info, err := index.Resolve(ctx, line, args[0])
	if err != nil {
		return err
	}
	info, err = index.Detail(ctx, info)
	if err != nil {
		return fmt.Errorf("failed to read snapshot details: %w", err)
	}

	if done, err := emit(info, showJSON, showToon); done {
		return err
	}

	printSnapshot(info)
	return nil
}

func printSnapshot(info models.SnapshotInfo) {
	fmt.Printf("Snapshot: %s\n\n", info.Ref)
	fmt.Printf("Ordinal:   %d\n", info.Ordinal)
	fmt.Printf("Commit:    %s\n", info.ID)
	fmt.Printf("Tree:      %s\n", info.Tree)
	if info.Parent != "" {
		fmt.Printf("Parent:    %s\n", info.Parent)
	}
	fmt.Printf("Created:   %s\n", info.CreatedAt.Local().Format("2006-01-02 15:04:05.000"))
	fmt.Printf("Message:   %s\n", info.Message)

	if meta := info.Metadata; meta != nil {
		if meta.SessionID != "" {
			fmt.Printf("Session:   %s\n", meta.SessionID)
		}
		if meta.Trigger != "" {
			fmt.Printf("Trigger:   %s\n", meta.Trigger)
		}
		if meta.Tool != "" {
			fmt.Printf("Tool:      %s\n", meta.Tool)
		}
		if meta.File != "" {
			fmt.Printf("File:      %s\n", meta.File)
		}
		fmt.Printf("Workspace: %s\n", meta.Workspace)
	}

	if len(info.Changes) == 0 {
		fmt.Println("\nNo changes against HEAD")
		return
	}
	printChanges(info.Changes)
}

func printChanges(changes []models.FileStat) {
	fmt.Printf("\nChanged files (%d):\n", len(changes))
	for _, c := range changes {
		if c.Binary {
			fmt.Printf("  %8s  %s\n", "binary", c.Path)
			continue
		}
		fmt.Printf("  +%-4d -%-4d %s\n", c.Added, c.Deleted, c.Path)
	}
}
