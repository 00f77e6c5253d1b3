package cmd

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pders01/git-rewind/internal/config"
	"github.com/pders01/git-rewind/internal/models"
	"github.com/pders01/git-rewind/internal/queue"
)

var (
	queueJSON    bool
	queueToon    bool
	queueVerbose bool
	drainHook    bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drain deferred captures",
	Long: `Captures that could not run because git's index was locked are queued
in the state directory and replayed by 'rewind queue drain'. Hook saves start
a drain in the background whenever entries are pending.`,
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending and dead-lettered captures",
	Long: `Show the queue directory, how many captures are pending, how many
exhausted their retries, and whether a drain is running.

Examples:
  rewind queue status
  rewind queue status -v
  rewind queue status --json`,
	Args: cobra.NoArgs,
	RunE: runQueueStatus,
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay deferred captures",
	Long: `Replay every pending capture. Entries that still fail are kept with an
incremented retry count; entries past queue.max_retries move to the
dead-letter file. If another drain is running this is a no-op.`,
	Args: cobra.NoArgs,
	RunE: runQueueDrain,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueDrainCmd)

	queueStatusCmd.Flags().BoolVar(&queueJSON, "json", false, "Output as JSON")
	queueStatusCmd.Flags().BoolVar(&queueToon, "toon", false, "Output in LLM-friendly toon format")
	queueStatusCmd.Flags().BoolVarP(&queueVerbose, "verbose", "v", false, "List pending and dead-lettered entries")

	queueDrainCmd.Flags().BoolVar(&drainHook, "hook", false, "Background mode: log to the state dir, never fail")
}

type queueReport struct {
	queue.Status
	Entries     []models.QueueEntry `json:"entries,omitempty"`
	DeadLetters []models.DeadLetter `json:"dead_letters,omitempty"`
}

func runQueueStatus(cmd *cobra.Command, args []string) error {
	q := newEngine(config.Load()).Queue()

	st, err := q.Status()
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	report := queueReport{Status: st}
	if queueVerbose || queueJSON || queueToon {
		if report.Entries, err = q.Pending(); err != nil {
			return fmt.Errorf("failed to read queue: %w", err)
		}
		if report.DeadLetters, err = q.DeadLetters(); err != nil {
			return fmt.Errorf("failed to read dead letters: %w", err)
		}
	}

	if done, err := emit(report, queueJSON, queueToon); done {
		return err
	}

	fmt.Println("Deferred Capture Queue")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Printf("Directory:      %s\n", st.Dir)
	fmt.Printf("Pending:        %d\n", st.Pending)
	fmt.Printf("Dead-lettered:  %d\n", st.DeadLettered)
	if st.Draining {
		fmt.Printf("Drain:          running (lock held %s)\n", formatDuration(st.LockAge))
	} else if st.LockAge > 0 {
		fmt.Printf("Drain:          stale lock (%s old)\n", formatDuration(st.LockAge))
	} else {
		fmt.Printf("Drain:          idle\n")
	}

	if !queueVerbose {
		return nil
	}
	if len(report.Entries) > 0 {
		fmt.Println("\nPending entries:")
		for _, e := range report.Entries {
			fmt.Printf("  %s  %s [%s] retries=%d\n", e.RequestedAt.Local().Format("2006-01-02 15:04:05"), e.WorkspacePath, e.LineOfWork, e.RetryCount)
			if e.LastError != "" {
				fmt.Printf("    last error: %s\n", e.LastError)
			}
		}
	}
	if len(report.DeadLetters) > 0 {
		fmt.Println("\nDead-lettered entries:")
		for _, d := range report.DeadLetters {
			fmt.Printf("  %s  %s [%s]\n", d.DeadLetteredAt.Local().Format("2006-01-02 15:04:05"), d.WorkspacePath, d.LineOfWork)
			fmt.Printf("    reason: %s\n", d.Reason)
		}
	}
	return nil
}

func runQueueDrain(cmd *cobra.Command, args []string) error {
	eng := newEngine(config.Load())

	report, err := eng.DrainQueue(commandContext(cmd))
	if errors.Is(err, models.ErrDrainInProgress) {
		if !drainHook {
			fmt.Println("Another drain is already running")
		}
		return nil
	}
	if err != nil {
		if drainHook {
			log.WithError(err).Error("background drain failed")
			return nil
		}
		return fmt.Errorf("drain failed: %w", err)
	}

	log.WithFields(log.Fields{
		"processed":     report.Processed,
		"succeeded":     report.Succeeded,
		"retained":      report.Retained,
		"dead_lettered": report.DeadLettered,
		"corrupt":       report.Corrupt,
	}).Info("queue drained")

	if drainHook {
		return nil
	}
	if report.Processed == 0 && report.Corrupt == 0 {
		fmt.Println("Queue is empty")
		return nil
	}
	fmt.Printf("✓ Drained %d capture(s): %d saved, %d kept for retry, %d dead-lettered\n",
		report.Processed, report.Succeeded, report.Retained, report.DeadLettered)
	if report.Corrupt > 0 {
		fmt.Printf("  Skipped %d malformed record(s)\n", report.Corrupt)
	}
	return nil
}
