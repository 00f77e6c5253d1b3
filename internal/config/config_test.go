package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/pders01/git-rewind/internal/lockguard"
)

func withDefaults(t *testing.T) {
	t.Helper()
	viper.Reset()
	SetDefaults()
	t.Cleanup(viper.Reset)
}

func TestDefaults(t *testing.T) {
	withDefaults(t)
	s := Load()

	if s.MaxWait != 3*time.Second {
		t.Errorf("expected 3s budget, got %v", s.MaxWait)
	}
	if s.Schedule != lockguard.DefaultSchedule {
		t.Errorf("unexpected schedule %+v", s.Schedule)
	}
	if s.MaxRetries != 5 || s.StaleAfter != 30*time.Second {
		t.Errorf("unexpected queue settings %d %v", s.MaxRetries, s.StaleAfter)
	}
	if s.Namespace != "refs/rewind" || s.NotesRef != "refs/notes/rewind" {
		t.Errorf("unexpected refs %s %s", s.Namespace, s.NotesRef)
	}
	if s.SemanticSearch || s.EmbeddingModel != "nomic-embed-text" || s.LogLevel != "info" {
		t.Errorf("unexpected settings %+v", s)
	}
}

func TestDurationsFromStrings(t *testing.T) {
	withDefaults(t)
	viper.Set("guard.max_wait", "500ms")
	viper.Set("queue.stale_after", "2m")

	if GetMaxWait() != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", GetMaxWait())
	}
	if GetStaleAfter() != 2*time.Minute {
		t.Errorf("expected 2m, got %v", GetStaleAfter())
	}
}

func TestInvalidScheduleFallsBack(t *testing.T) {
	withDefaults(t)
	viper.Set("guard.multiplier", 0.5)
	if GetSchedule() != lockguard.DefaultSchedule {
		t.Error("a shrinking multiplier should fall back to the default schedule")
	}
}

func TestStateDir(t *testing.T) {
	withDefaults(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_STATE_HOME", "")

	if got := StateDir(); got != filepath.Join(home, ".local", "state", "rewind") {
		t.Errorf("unexpected fallback %s", got)
	}

	t.Setenv("XDG_STATE_HOME", "/xdg")
	if got := StateDir(); got != "/xdg/rewind" {
		t.Errorf("expected XDG dir, got %s", got)
	}

	viper.Set("state.dir", "/explicit")
	s := Load()
	if s.StateDir != "/explicit" || s.LogFile() != "/explicit/rewind.log" || s.EmbeddingsDir() != "/explicit/embeddings" {
		t.Errorf("unexpected paths %+v", s)
	}
}
