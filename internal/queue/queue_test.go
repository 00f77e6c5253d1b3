package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pkg/errors"

	"github.com/pders01/git-rewind/internal/models"
)

func newQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "state"), opts)
}

func entry(id string) models.QueueEntry {
	return models.QueueEntry{
		RequestedAt:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		WorkspacePath: "/work/" + id,
		LineOfWork:    "main",
		CorrelationID: id,
	}
}

func succeed(context.Context, models.QueueEntry) error { return nil }

func TestEnqueueCreatesDirLazily(t *testing.T) {
	q := newQueue(t, Options{})
	if _, err := os.Stat(q.Dir()); !os.IsNotExist(err) {
		t.Fatal("state dir should not exist before the first write")
	}

	if err := q.Enqueue(entry("a")); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(entry("b")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(q.Dir(), liveFile))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"workspacePath":"/work/a"`) || !strings.Contains(lines[0], `"retryCount":0`) {
		t.Errorf("unexpected record %s", lines[0])
	}
}

func TestEnqueueRejectsEmptyWorkspace(t *testing.T) {
	q := newQueue(t, Options{})
	if err := q.Enqueue(models.QueueEntry{}); err == nil {
		t.Error("expected an error for an entry without workspace")
	}
}

func TestConcurrentEnqueue(t *testing.T) {
	q := newQueue(t, Options{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := q.Enqueue(entry(fmt.Sprint(i))); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	pending, err := q.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 50 {
		t.Errorf("expected 50 intact records, got %d", len(pending))
	}
}

func TestDrainSuccessEmptiesQueue(t *testing.T) {
	q := newQueue(t, Options{})
	q.Enqueue(entry("a"))
	q.Enqueue(entry("b"))

	var seen []string
	report, err := q.Drain(context.Background(), func(_ context.Context, e models.QueueEntry) error {
		seen = append(seen, e.CorrelationID)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Succeeded != 2 || report.Retained != 0 {
		t.Errorf("unexpected report %+v", report)
	}
	if strings.Join(seen, ",") != "a,b" {
		t.Errorf("entries processed out of order: %v", seen)
	}

	pending, _ := q.Pending()
	if len(pending) != 0 {
		t.Errorf("queue should be empty, got %d", len(pending))
	}
	files, _ := q.claimFiles()
	if len(files) != 0 {
		t.Errorf("claim files should be removed, got %v", files)
	}
	if _, err := os.Stat(filepath.Join(q.Dir(), lockFile)); !os.IsNotExist(err) {
		t.Error("drain lock should be released")
	}
}

func TestDrainFailureIncrementsRetry(t *testing.T) {
	q := newQueue(t, Options{MaxRetries: 3})
	q.Enqueue(entry("a"))

	fail := func(context.Context, models.QueueEntry) error { return errors.New("index busy") }
	report, err := q.Drain(context.Background(), fail)
	if err != nil {
		t.Fatal(err)
	}
	if report.Retained != 1 {
		t.Errorf("expected the entry to be retained, got %+v", report)
	}

	pending, _ := q.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending entry, got %d", len(pending))
	}
	if pending[0].RetryCount != 1 || pending[0].LastError != "index busy" {
		t.Errorf("retry not recorded: %+v", pending[0])
	}
}

func TestDrainDeadLettersAfterMaxRetries(t *testing.T) {
	q := newQueue(t, Options{MaxRetries: 2})
	q.Enqueue(entry("a"))
	fail := func(context.Context, models.QueueEntry) error { return errors.New("workspace gone") }

	for i := 0; i < 2; i++ {
		if _, err := q.Drain(context.Background(), fail); err != nil {
			t.Fatal(err)
		}
	}
	pending, _ := q.Pending()
	if len(pending) != 1 || pending[0].RetryCount != 2 {
		t.Fatalf("entry should survive up to the ceiling: %+v", pending)
	}

	report, err := q.Drain(context.Background(), fail)
	if err != nil {
		t.Fatal(err)
	}
	if report.DeadLettered != 1 {
		t.Errorf("expected dead-lettering, got %+v", report)
	}

	pending, _ = q.Pending()
	if len(pending) != 0 {
		t.Errorf("dead-lettered entry must leave the queue, got %d", len(pending))
	}
	dead, err := q.DeadLetters()
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 || dead[0].CorrelationID != "a" || dead[0].RetryCount != 3 || dead[0].Reason != "workspace gone" {
		t.Errorf("unexpected dead letters %+v", dead)
	}
}

func TestDrainSkipsCorruptLines(t *testing.T) {
	q := newQueue(t, Options{})
	q.Enqueue(entry("a"))
	f, err := os.OpenFile(filepath.Join(q.Dir(), liveFile), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n{\"retryCount\":1}\n")
	f.Close()
	q.Enqueue(entry("b"))

	var seen int
	report, err := q.Drain(context.Background(), func(context.Context, models.QueueEntry) error {
		seen++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != 2 || report.Corrupt != 2 {
		t.Errorf("expected 2 processed and 2 corrupt, got %d and %+v", seen, report)
	}
}

func TestDrainInProgress(t *testing.T) {
	q := newQueue(t, Options{StaleAfter: time.Minute})
	q.Enqueue(entry("a"))
	lock := filepath.Join(q.Dir(), lockFile)
	os.WriteFile(lock, []byte(time.Now().UTC().Format(time.RFC3339Nano)), 0644)

	called := false
	_, err := q.Drain(context.Background(), func(context.Context, models.QueueEntry) error {
		called = true
		return nil
	})
	if !errors.Is(err, models.ErrDrainInProgress) {
		t.Fatalf("expected ErrDrainInProgress, got %v", err)
	}
	if called {
		t.Error("processor must not run while another drain holds the lock")
	}
	if _, err := os.Stat(lock); err != nil {
		t.Error("foreign lock must be left in place")
	}

	st, err := q.Status()
	if err != nil {
		t.Fatal(err)
	}
	if !st.Draining || st.Pending != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestDrainReclaimsStaleLock(t *testing.T) {
	q := newQueue(t, Options{StaleAfter: time.Second})
	q.Enqueue(entry("a"))
	old := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano)
	os.WriteFile(filepath.Join(q.Dir(), lockFile), []byte(old), 0644)

	report, err := q.Drain(context.Background(), succeed)
	if err != nil {
		t.Fatal(err)
	}
	if report.Succeeded != 1 {
		t.Errorf("stale lock should have been reclaimed: %+v", report)
	}
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, lockFile)
	l, err := acquireLock(path, time.Now(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(path, []byte("someone-else"), 0644)
	l.release()
	if _, err := os.Stat(path); err != nil {
		t.Error("release removed a lock it no longer owns")
	}
}

func TestDrainPicksUpCrashLeftovers(t *testing.T) {
	q := newQueue(t, Options{})
	q.Enqueue(entry("crashed"))
	// a drain that died after claiming but before rewriting
	if err := q.claimLive(); err != nil {
		t.Fatal(err)
	}
	q.Enqueue(entry("fresh"))

	pending, _ := q.Pending()
	if len(pending) != 2 {
		t.Fatalf("claimed entries must still count as pending, got %d", len(pending))
	}

	var seen []string
	if _, err := q.Drain(context.Background(), func(_ context.Context, e models.QueueEntry) error {
		seen = append(seen, e.CorrelationID)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 {
		t.Errorf("expected both entries processed, got %v", seen)
	}
}

func TestEnqueueDuringDrainIsNotLost(t *testing.T) {
	q := newQueue(t, Options{})
	q.Enqueue(entry("a"))

	_, err := q.Drain(context.Background(), func(_ context.Context, e models.QueueEntry) error {
		if e.CorrelationID == "a" {
			return q.Enqueue(entry("late"))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	pending, _ := q.Pending()
	if len(pending) != 1 || pending[0].CorrelationID != "late" {
		t.Errorf("entry appended mid-drain should stay queued, got %+v", pending)
	}
}

func TestConcurrentDrainsNeverDoubleProcess(t *testing.T) {
	q := newQueue(t, Options{})
	for i := 0; i < 20; i++ {
		q.Enqueue(entry(fmt.Sprint(i)))
	}

	var mu sync.Mutex
	counts := map[string]int{}
	var busy int32
	process := func(_ context.Context, e models.QueueEntry) error {
		atomic.AddInt32(&busy, 1)
		defer atomic.AddInt32(&busy, -1)
		time.Sleep(time.Millisecond)
		mu.Lock()
		counts[e.CorrelationID]++
		mu.Unlock()
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Drain(context.Background(), process)
			if err != nil && !errors.Is(err, models.ErrDrainInProgress) {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	// drains that lost the race leave work behind; finish it
	if _, err := q.Drain(context.Background(), process); err != nil {
		t.Fatal(err)
	}
	for id, n := range counts {
		if n != 1 {
			t.Errorf("entry %s processed %d times", id, n)
		}
	}
	if len(counts) != 20 {
		t.Errorf("expected 20 entries processed, got %d", len(counts))
	}
}

func TestDrainCancelledKeepsRemainder(t *testing.T) {
	q := newQueue(t, Options{})
	q.Enqueue(entry("a"))
	q.Enqueue(entry("b"))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := q.Drain(ctx, func(_ context.Context, e models.QueueEntry) error {
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	pending, _ := q.Pending()
	if len(pending) != 1 || pending[0].CorrelationID != "b" {
		t.Errorf("unprocessed entry should remain, got %+v", pending)
	}
}

func TestQueueToleratesGarbage(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("valid records survive interleaved garbage", prop.ForAll(
		func(valid int, garbage []string) bool {
			q := New(t.TempDir(), Options{})
			for i := 0; i < valid; i++ {
				if q.Enqueue(entry(fmt.Sprint(i))) != nil {
					return false
				}
			}
			f, err := os.OpenFile(filepath.Join(q.Dir(), liveFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return false
			}
			for _, g := range garbage {
				f.WriteString("#" + strings.ReplaceAll(g, "\n", " ") + "\n")
			}
			f.Close()

			processed := 0
			report, err := q.Drain(context.Background(), func(context.Context, models.QueueEntry) error {
				processed++
				return nil
			})
			return err == nil && processed == valid && report.Corrupt == len(garbage)
		},
		gen.IntRange(0, 10),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
