package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pders01/git-rewind/internal/config"
	"github.com/pders01/git-rewind/internal/engine"
	"github.com/pders01/git-rewind/internal/models"
)

var (
	saveHook    bool
	saveSession string
	saveTool    string
	saveFile    string
	saveMaxWait time.Duration
)

var saveCmd = &cobra.Command{
	Use:   "save [message]",
	Short: "Capture the work tree as a snapshot",
	Long: `Capture the current work tree as an immutable snapshot under
refs/rewind/<branch>/, without touching git's index.

If another git process holds the index lock for longer than the wait budget,
the capture is queued and replayed later by 'rewind queue drain'.

With --hook the command is silent and always exits 0, so it can be wired into
editor or agent hooks. Logs go to the rewind.log file in the state directory.`,
	Args: cobra.ArbitraryArgs,
	RunE: runSave,
}

func init() {
	rootCmd.AddCommand(saveCmd)

	saveCmd.Flags().BoolVar(&saveHook, "hook", false, "Hook mode: silent, never fails")
	saveCmd.Flags().StringVar(&saveSession, "session", "", "Correlation id (default $REWIND_SESSION_ID or a new uuid)")
	saveCmd.Flags().StringVar(&saveTool, "tool", "", "Tool that triggered the capture")
	saveCmd.Flags().StringVar(&saveFile, "file", "", "File the tool touched")
	saveCmd.Flags().DurationVar(&saveMaxWait, "max-wait", 0, "Index lock wait budget (default guard.max_wait)")
}

// spawnDrain starts a detached drain so queued captures land soon after the
// lock clears. Tests replace it.
var spawnDrain = func() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	child := exec.Command(exe, "queue", "drain", "--hook")
	child.Stdin, child.Stdout, child.Stderr = nil, nil, nil
	if err := child.Start(); err != nil {
		return err
	}
	return child.Process.Release()
}

func sessionID() string {
	if saveSession != "" {
		return saveSession
	}
	if env := os.Getenv("REWIND_SESSION_ID"); env != "" {
		return env
	}
	return uuid.NewString()
}

func runSave(cmd *cobra.Command, args []string) error {
	settings := config.Load()
	if saveMaxWait > 0 {
		settings.MaxWait = saveMaxWait
	}

	wd, err := os.Getwd()
	if err != nil {
		if saveHook {
			log.WithError(err).Error("failed to get working directory")
			return nil
		}
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	trigger := models.TriggerManual
	if saveHook {
		trigger = models.TriggerHook
	}

	eng := newEngine(settings)
	out := eng.Save(commandContext(cmd), engine.SaveRequest{
		Workspace:      wd,
		Message:        strings.Join(args, " "),
		SessionID:      sessionID(),
		Tool:           saveTool,
		File:           saveFile,
		Trigger:        trigger,
		DeferOnFailure: saveHook,
	})

	if saveHook {
		return finishHook(eng, out)
	}

	switch out.State {
	case engine.Committed:
		if out.Result.NoOp {
			fmt.Println("Nothing to save: work tree matches the last snapshot")
			return nil
		}
		fmt.Printf("✓ Snapshot saved: %s\n", out.Result.Ref.Name)
		fmt.Printf("  Commit: %s (%d files)\n", out.Result.ID[:8], out.Result.Files)
	case engine.Deferred:
		fmt.Printf("Index is busy, capture queued in %s\n", eng.Queue().Dir())
		fmt.Println("Run 'rewind queue drain' once the other git process finishes")
	default:
		return fmt.Errorf("failed to save snapshot: %w", out.Err)
	}
	return nil
}

// finishHook logs the outcome and kicks off a drain when work is pending.
// It never returns an error.
func finishHook(eng *engine.Engine, out engine.Outcome) error {
	fields := log.Fields{"state": out.State, "waits": out.Waits}

	switch {
	case out.State == engine.Failed && errors.Is(out.Err, models.ErrNotRepository):
		log.WithFields(fields).Debug("hook fired outside a repository")
		return nil
	case out.State == engine.Failed:
		log.WithFields(fields).WithError(out.Err).Error("hook capture failed")
	case out.State == engine.Committed && !out.Result.NoOp:
		log.WithFields(fields).WithField("ref", out.Result.Ref.Name).Debug("hook capture committed")
	}

	pending, err := eng.Queue().Pending()
	if err != nil {
		log.WithError(err).Warn("failed to read queue")
		return nil
	}
	if len(pending) == 0 {
		return nil
	}
	if err := spawnDrain(); err != nil {
		log.WithError(err).Warn("failed to start background drain")
	}
	return nil
}
