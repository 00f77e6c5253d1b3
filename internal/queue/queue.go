// Package queue persists capture requests that could not run immediately and
// replays them later.
//
// The live log, queue.jsonl, is only ever appended to. A drain claims it by
// renaming it to claim-<ulid>.jsonl, so enqueuers keep appending to a fresh
// log while the claimed records are processed and rewritten. Claim files left
// behind by a crashed drain are picked up by the next one.
package queue

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pders01/git-rewind/internal/models"
)

const (
	liveFile       = "queue.jsonl"
	deadLetterFile = "deadletter.jsonl"
	lockFile       = "drain.lock"
	claimPrefix    = "claim-"
	claimSuffix    = ".jsonl"

	DefaultMaxRetries = 5
	DefaultStaleAfter = 30 * time.Second
)

// Processor performs the capture for one entry. A nil return, including a
// capture that turned out to be a no-op, removes the entry for good.
type Processor func(ctx context.Context, entry models.QueueEntry) error

// Options tunes retry and lock handling.
type Options struct {
	MaxRetries int
	StaleAfter time.Duration
}

// Queue is a deferred capture queue rooted at one state directory. The
// directory is created on first write.
type Queue struct {
	dir        string
	maxRetries int
	staleAfter time.Duration
	now        func() time.Time
}

// New returns a Queue in dir. Zero options fall back to the defaults.
func New(dir string, opts Options) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	return &Queue{
		dir:        dir,
		maxRetries: opts.MaxRetries,
		staleAfter: opts.StaleAfter,
		now:        time.Now,
	}
}

// Dir is the state directory.
func (q *Queue) Dir() string { return q.dir }

func (q *Queue) path(name string) string { return filepath.Join(q.dir, name) }

func (q *Queue) ensureDir() error {
	if err := os.MkdirAll(q.dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create state dir %s", q.dir)
	}
	return nil
}

// Enqueue appends entry to the live log.
func (q *Queue) Enqueue(entry models.QueueEntry) error {
	if entry.WorkspacePath == "" {
		return errors.New("queue entry needs a workspace path")
	}
	if entry.RequestedAt.IsZero() {
		entry.RequestedAt = q.now()
	}
	if err := q.ensureDir(); err != nil {
		return err
	}
	if err := appendRecord(q.path(liveFile), entry); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"workspace":   entry.WorkspacePath,
		"line":        entry.LineOfWork,
		"correlation": entry.CorrelationID,
	}).Info("capture deferred to queue")
	return nil
}

// claimFiles lists claim files oldest first.
func (q *Queue) claimFiles() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read state dir")
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, claimPrefix) && strings.HasSuffix(name, claimSuffix) {
			out = append(out, q.path(name))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Pending returns every entry not yet processed, claimed or live.
func (q *Queue) Pending() ([]models.QueueEntry, error) {
	files, err := q.claimFiles()
	if err != nil {
		return nil, err
	}
	files = append(files, q.path(liveFile))

	var all []models.QueueEntry
	for _, f := range files {
		entries, _, err := readEntries(f)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

// DeadLetters returns entries that exhausted their retries.
func (q *Queue) DeadLetters() ([]models.DeadLetter, error) {
	return readDeadLetters(q.path(deadLetterFile))
}

// Status summarizes the queue for display.
type Status struct {
	Dir          string        `json:"dir"`
	Pending      int           `json:"pending"`
	DeadLettered int           `json:"dead_lettered"`
	Draining     bool          `json:"draining"`
	LockAge      time.Duration `json:"lock_age,omitempty"`
}

// Status reports pending and dead-lettered counts plus the drain lock state.
func (q *Queue) Status() (Status, error) {
	st := Status{Dir: q.dir}
	pending, err := q.Pending()
	if err != nil {
		return st, err
	}
	st.Pending = len(pending)

	dead, err := q.DeadLetters()
	if err != nil {
		return st, err
	}
	st.DeadLettered = len(dead)

	held, age, err := lockAge(q.path(lockFile), q.now())
	if err != nil {
		return st, err
	}
	st.Draining = held && age < q.staleAfter
	if held {
		st.LockAge = age
	}
	return st, nil
}

// Report summarizes one drain.
type Report struct {
	Processed    int `json:"processed"`
	Succeeded    int `json:"succeeded"`
	Retained     int `json:"retained"`
	DeadLettered int `json:"dead_lettered"`
	Corrupt      int `json:"corrupt"`
}

// Drain processes all claimed and live entries under the advisory lock. It
// returns ErrDrainInProgress when another drainer holds a fresh lock.
func (q *Queue) Drain(ctx context.Context, process Processor) (Report, error) {
	var report Report
	if err := q.ensureDir(); err != nil {
		return report, err
	}

	lock, err := acquireLock(q.path(lockFile), q.now(), q.staleAfter)
	if err != nil {
		return report, err
	}
	defer lock.release()

	if err := q.claimLive(); err != nil {
		return report, err
	}

	files, err := q.claimFiles()
	if err != nil {
		return report, err
	}
	for _, f := range files {
		if err := q.drainFile(ctx, f, process, &report); err != nil {
			return report, err
		}
		if ctx.Err() != nil {
			break
		}
	}

	log.WithFields(log.Fields{
		"processed":     report.Processed,
		"succeeded":     report.Succeeded,
		"retained":      report.Retained,
		"dead_lettered": report.DeadLettered,
	}).Info("queue drained")
	return report, ctx.Err()
}

// claimLive moves the live log aside so new enqueues start a fresh file.
func (q *Queue) claimLive() error {
	name := claimPrefix + ulid.Make().String() + claimSuffix
	err := os.Rename(q.path(liveFile), q.path(name))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to claim queue log")
	}
	return nil
}

func (q *Queue) drainFile(ctx context.Context, path string, process Processor, report *Report) error {
	entries, corrupt, err := readEntries(path)
	if err != nil {
		return err
	}
	report.Corrupt += corrupt

	var survivors []models.QueueEntry
	for i, entry := range entries {
		if ctx.Err() != nil {
			survivors = append(survivors, entries[i:]...)
			break
		}
		report.Processed++

		fields := log.Fields{
			"workspace":   entry.WorkspacePath,
			"line":        entry.LineOfWork,
			"correlation": entry.CorrelationID,
			"retry":       entry.RetryCount,
		}
		perr := process(ctx, entry)
		if perr == nil {
			report.Succeeded++
			continue
		}

		entry.RetryCount++
		entry.LastError = perr.Error()
		if entry.RetryCount > q.maxRetries {
			if err := q.deadLetter(entry, perr); err != nil {
				// keep it queued rather than lose it
				survivors = append(survivors, entry)
				report.Retained++
				log.WithFields(fields).WithError(err).Error("failed to dead-letter entry")
				continue
			}
			report.DeadLettered++
			continue
		}
		log.WithFields(fields).WithError(perr).Warn("deferred capture failed, will retry")
		survivors = append(survivors, entry)
		report.Retained++
	}

	return writeEntries(path, survivors)
}

func (q *Queue) deadLetter(entry models.QueueEntry, cause error) error {
	dl := models.DeadLetter{
		QueueEntry:     entry,
		DeadLetteredAt: q.now(),
		Reason:         cause.Error(),
	}
	if err := appendRecord(q.path(deadLetterFile), dl); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"workspace":   entry.WorkspacePath,
		"line":        entry.LineOfWork,
		"correlation": entry.CorrelationID,
		"retries":     entry.RetryCount,
		"reason":      dl.Reason,
	}).Error("capture dead-lettered after exhausting retries")
	return nil
}
