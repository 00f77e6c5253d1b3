package cmd

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/git-rewind/internal/config"
	"github.com/pders01/git-rewind/internal/git"
	"github.com/pders01/git-rewind/internal/models"
	"github.com/pders01/git-rewind/internal/timeline"
)

var (
	archiveOutput string
	archiveAll    bool
)

var archiveCmd = &cobra.Command{
	Use:   "archive <target>...",
	Short: "Bundle snapshots for external storage",
	Long: `Write the files of one or more snapshots to a tar.gz archive, read
straight from the object store. Each snapshot goes under its own directory
named <branch>-<suffix>.

Examples:
  rewind archive 1                   # Archive the newest snapshot
  rewind archive 1 4 --output a.tar.gz
  rewind archive --all               # Every snapshot of the current branch`,
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)

	archiveCmd.Flags().StringVar(&archiveOutput, "output", "", "Output file path (default: rewind-<branch>.tar.gz)")
	archiveCmd.Flags().BoolVar(&archiveAll, "all", false, "Archive every snapshot of the current branch")
}

func runArchive(cmd *cobra.Command, args []string) error {
	if archiveAll == (len(args) > 0) {
		return fmt.Errorf("give either snapshot targets or --all")
	}

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

	var selected []models.SnapshotInfo
	if archiveAll {
		if selected, err = index.List(ctx, line); err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}
	} else {
		for _, target := range args {
			info, err := index.Resolve(ctx, line, target)
			if err != nil {
				return err
			}
			selected = append(selected, info)
		}
	}

	if len(selected) == 0 {
		fmt.Println("No snapshots found")
		return nil
	}

	outputFile := archiveOutput
	if outputFile == "" {
		outputFile = fmt.Sprintf("rewind-%s.tar.gz", strings.ReplaceAll(line, "/", "-"))
	}

	fmt.Printf("Archiving %d snapshot(s) to: %s\n\n", len(selected), outputFile)

	if err := createArchive(ctx, repo, outputFile, selected); err != nil {
		os.Remove(outputFile)
		return fmt.Errorf("failed to create archive: %w", err)
	}

	if fileInfo, err := os.Stat(outputFile); err == nil {
		fmt.Printf("\n✓ Archive created: %s (%.2f KB)\n", outputFile, float64(fileInfo.Size())/1024)
	} else {
		fmt.Printf("\n✓ Archive created: %s\n", outputFile)
	}
	return nil
}

func archivePrefix(info models.SnapshotInfo) string {
	return strings.ReplaceAll(info.Line, "/", "-") + "-" + info.Suffix
}

func createArchive(ctx context.Context, repo *git.Repository, filename string, snapshots []models.SnapshotInfo) error {
	outFile, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)

	for i, info := range snapshots {
		fmt.Printf("  [%d/%d] Exporting %s...\n", i+1, len(snapshots), info.Ref)
		if err := archiveSnapshot(ctx, repo, tarWriter, info); err != nil {
			return fmt.Errorf("failed to export %s: %w", info.Ref, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	if err := gzWriter.Close(); err != nil {
		return err
	}
	return outFile.Sync()
}

func archiveSnapshot(ctx context.Context, repo *git.Repository, tw *tar.Writer, info models.SnapshotInfo) error {
	entries, err := repo.LsTree(ctx, info.ID)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type == "blob" {
			ids = append(ids, e.ID)
		}
	}
	blobs, err := repo.CatBlobs(ctx, ids)
	if err != nil {
		return err
	}

	prefix := archivePrefix(info)
	for _, e := range entries {
		if e.Type != "blob" {
			continue
		}
		data, ok := blobs[e.ID]
		if !ok {
			return fmt.Errorf("blob %s for %s is missing", e.ID, e.Path)
		}

		header := &tar.Header{
			Name:    path.Join(prefix, e.Path),
			ModTime: info.CreatedAt,
		}
		switch e.Mode {
		case git.ModeSymlink:
			header.Typeflag = tar.TypeSymlink
			header.Linkname = string(data)
			header.Mode = 0777
		case git.ModeExecutable:
			header.Typeflag = tar.TypeReg
			header.Mode = 0755
			header.Size = int64(len(data))
		default:
			header.Typeflag = tar.TypeReg
			header.Mode = 0644
			header.Size = int64(len(data))
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if header.Typeflag == tar.TypeReg {
			if _, err := tw.Write(data); err != nil {
				return err
			}
		}
	}
	return nil
}
