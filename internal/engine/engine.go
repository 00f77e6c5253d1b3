// Package engine runs the capture flow: wait for the index within a budget,
// snapshot when it is free, and defer to the queue when it is not.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pders01/git-rewind/internal/git"
	"github.com/pders01/git-rewind/internal/lockguard"
	"github.com/pders01/git-rewind/internal/models"
	"github.com/pders01/git-rewind/internal/queue"
	"github.com/pders01/git-rewind/internal/snapshot"
	"github.com/pders01/git-rewind/internal/timeline"
)

// State of one capture request.
type State int

const (
	Idle State = iota
	Waiting
	Deferred
	Committed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Deferred:
		return "deferred"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Settings configure an Engine.
type Settings struct {
	MaxWait   time.Duration
	Schedule  lockguard.Schedule
	Namespace string
	NotesRef  string
}

// Engine captures snapshots for any workspace and replays deferred ones.
type Engine struct {
	settings Settings
	queue    *queue.Queue
	newGuard func(marker string) *lockguard.Guard
}

// New returns an Engine deferring into q.
func New(settings Settings, q *queue.Queue) *Engine {
	if settings.Schedule == (lockguard.Schedule{}) {
		settings.Schedule = lockguard.DefaultSchedule
	}
	e := &Engine{settings: settings, queue: q}
	e.newGuard = func(marker string) *lockguard.Guard {
		return lockguard.New(marker, e.settings.Schedule)
	}
	return e
}

// Queue is the deferred queue the engine writes to.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// MaxWait is the guard budget.
func (e *Engine) MaxWait() time.Duration { return e.settings.MaxWait }

// Guard returns a lock guard watching repo's index lock.
func (e *Engine) Guard(ctx context.Context, repo *git.Repository) (*lockguard.Guard, error) {
	marker, err := repo.GitPath(ctx, "index.lock")
	if err != nil {
		return nil, err
	}
	return e.newGuard(marker), nil
}

// Index returns the timeline for repo under the configured namespace.
func (e *Engine) Index(repo *git.Repository) *timeline.Index {
	return timeline.New(repo, e.settings.Namespace, e.settings.NotesRef)
}

// Writer returns a snapshot writer for repo.
func (e *Engine) Writer(repo *git.Repository) *snapshot.Writer {
	return snapshot.NewWriter(repo, e.Index(repo))
}

// SaveRequest asks for one capture.
type SaveRequest struct {
	Workspace string
	Message   string
	SessionID string
	Tool      string
	File      string
	Trigger   models.Trigger
	// DeferOnFailure queues the request when the capture itself fails, so a
	// hook firing is never lost.
	DeferOnFailure bool
}

// Outcome is the final state of a Save. Waits counts the guard's backoff
// rounds; Entry is set when the request was queued.
type Outcome struct {
	State  State
	Waits  int
	Result snapshot.Result
	Entry  *models.QueueEntry
	Err    error
}

// Save runs the capture state machine to completion. Contention never
// yields an error: the request is queued instead.
func (e *Engine) Save(ctx context.Context, req SaveRequest) Outcome {
	out := Outcome{State: Idle}
	fields := log.Fields{"workspace": req.Workspace, "session": req.SessionID}

	repo, err := git.Open(req.Workspace)
	if err != nil {
		out.State, out.Err = Failed, err
		return out
	}
	fields["workspace"] = repo.Dir()

	guard, err := e.Guard(ctx, repo)
	if err != nil {
		out.State, out.Err = Failed, err
		return out
	}
	guard.OnWait = func(attempt int, d time.Duration) {
		out.State, out.Waits = Waiting, attempt+1
		log.WithFields(fields).WithField("wait", d).Debug("index locked, backing off")
	}

	if guard.Await(ctx, e.settings.MaxWait) == lockguard.Deferred {
		log.WithFields(fields).WithField("budget", e.settings.MaxWait).Info(models.ErrContention)
		return e.deferCapture(ctx, repo, req, out, nil)
	}

	res, err := e.Writer(repo).Capture(ctx, snapshot.Request{
		Message: req.Message,
		Metadata: models.Metadata{
			SessionID: req.SessionID,
			Tool:      req.Tool,
			File:      req.File,
			Trigger:   req.Trigger,
		},
	})
	if err != nil {
		if req.DeferOnFailure {
			log.WithFields(fields).WithError(err).Warn("capture failed, deferring")
			return e.deferCapture(ctx, repo, req, out, err)
		}
		out.State, out.Err = Failed, err
		return out
	}

	out.State, out.Result = Committed, res
	return out
}

func (e *Engine) deferCapture(ctx context.Context, repo *git.Repository, req SaveRequest, out Outcome, cause error) Outcome {
	line, err := repo.CurrentBranch(ctx)
	if err != nil {
		line = ""
	}
	entry := models.QueueEntry{
		RequestedAt:   time.Now(),
		WorkspacePath: repo.Dir(),
		LineOfWork:    line,
		CorrelationID: req.SessionID,
		Tool:          req.Tool,
		File:          req.File,
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}

	if err := e.queue.Enqueue(entry); err != nil {
		log.WithFields(log.Fields{
			"workspace": entry.WorkspacePath,
			"session":   entry.CorrelationID,
		}).WithError(err).Error("failed to enqueue deferred capture")
		out.State, out.Err = Failed, errors.Wrap(err, "capture deferred but could not be queued")
		return out
	}
	out.State, out.Entry = Deferred, &entry
	return out
}

// DrainQueue replays queued captures through the same guard and writer.
func (e *Engine) DrainQueue(ctx context.Context) (queue.Report, error) {
	return e.queue.Drain(ctx, e.process)
}

func (e *Engine) process(ctx context.Context, entry models.QueueEntry) error {
	if _, err := os.Stat(entry.WorkspacePath); err != nil {
		return errors.Wrapf(err, "workspace %s is gone", entry.WorkspacePath)
	}
	repo, err := git.Open(entry.WorkspacePath)
	if err != nil {
		return err
	}

	guard, err := e.Guard(ctx, repo)
	if err != nil {
		return err
	}
	if guard.Await(ctx, e.settings.MaxWait) == lockguard.Deferred {
		return models.ErrContention
	}

	current, err := repo.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if entry.LineOfWork != "" && current != entry.LineOfWork {
		log.WithFields(log.Fields{
			"workspace": entry.WorkspacePath,
			"requested": entry.LineOfWork,
			"current":   current,
		}).Warn("workspace switched branches since the capture was queued")
	}

	res, err := e.Writer(repo).Capture(ctx, snapshot.Request{
		LineOfWork: current,
		Message:    "deferred capture",
		Metadata: models.Metadata{
			SessionID: entry.CorrelationID,
			Tool:      entry.Tool,
			File:      entry.File,
			Trigger:   models.TriggerDeferred,
		},
	})
	if err != nil {
		return err
	}
	if res.NoOp {
		log.WithField("workspace", entry.WorkspacePath).Debug("deferred capture was a no-op")
	}
	return nil
}
