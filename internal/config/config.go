package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/pders01/git-rewind/internal/lockguard"
	"github.com/pders01/git-rewind/internal/models"
	"github.com/pders01/git-rewind/internal/ollama"
)

// SetDefaults registers every key with its default value
func SetDefaults() {
	viper.SetDefault("guard.max_wait", 3*time.Second)
	viper.SetDefault("guard.initial_interval", lockguard.DefaultSchedule.InitialInterval)
	viper.SetDefault("guard.max_interval", lockguard.DefaultSchedule.MaxInterval)
	viper.SetDefault("guard.multiplier", lockguard.DefaultSchedule.Multiplier)
	viper.SetDefault("queue.max_retries", 5)
	viper.SetDefault("queue.stale_after", 30*time.Second)
	viper.SetDefault("state.dir", "")
	viper.SetDefault("snapshot.namespace", models.DefaultNamespace)
	viper.SetDefault("snapshot.notes_ref", models.DefaultNotesRef)
	viper.SetDefault("search.semantic", false)
	viper.SetDefault("embeddings.model", ollama.DefaultModel)
	viper.SetDefault("embeddings.ollama_url", ollama.DefaultURL)
	viper.SetDefault("log.level", "info")
}

// GetMaxWait returns how long a capture may wait for the index lock
func GetMaxWait() time.Duration {
	return viper.GetDuration("guard.max_wait")
}

// GetSchedule returns the lock guard backoff schedule
func GetSchedule() lockguard.Schedule {
	s := lockguard.Schedule{
		InitialInterval: viper.GetDuration("guard.initial_interval"),
		MaxInterval:     viper.GetDuration("guard.max_interval"),
		Multiplier:      viper.GetFloat64("guard.multiplier"),
	}
	if s.InitialInterval <= 0 || s.MaxInterval <= 0 || s.Multiplier < 1 {
		return lockguard.DefaultSchedule
	}
	return s
}

// GetMaxRetries returns the retry ceiling before an entry is dead-lettered
func GetMaxRetries() int {
	return viper.GetInt("queue.max_retries")
}

// GetStaleAfter returns the age at which a drain lock is abandoned
func GetStaleAfter() time.Duration {
	return viper.GetDuration("queue.stale_after")
}

// GetNamespace returns the ref prefix for snapshots
func GetNamespace() string {
	return viper.GetString("snapshot.namespace")
}

// GetNotesRef returns the notes ref holding snapshot metadata
func GetNotesRef() string {
	return viper.GetString("snapshot.notes_ref")
}

// GetSemanticSearch reports whether search re-ranks by embeddings by default
func GetSemanticSearch() bool {
	return viper.GetBool("search.semantic")
}

// GetEmbeddingModel returns the ollama model used for embeddings
func GetEmbeddingModel() string {
	return viper.GetString("embeddings.model")
}

// GetOllamaURL returns the ollama API endpoint
func GetOllamaURL() string {
	return viper.GetString("embeddings.ollama_url")
}

// GetLogLevel returns the configured log level name
func GetLogLevel() string {
	return viper.GetString("log.level")
}

// StateDir returns the directory holding the queue, locks and logs.
// Resolution: state.dir, then $XDG_STATE_HOME/rewind, then ~/.local/state/rewind.
func StateDir() string {
	if dir := viper.GetString("state.dir"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "rewind")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "rewind")
	}
	return filepath.Join(home, ".local", "state", "rewind")
}

// Settings is the resolved configuration handed to components
type Settings struct {
	MaxWait        time.Duration
	Schedule       lockguard.Schedule
	MaxRetries     int
	StaleAfter     time.Duration
	StateDir       string
	Namespace      string
	NotesRef       string
	SemanticSearch bool
	EmbeddingModel string
	OllamaURL      string
	LogLevel       string
}

// Load snapshots the current configuration
func Load() Settings {
	return Settings{
		MaxWait:        GetMaxWait(),
		Schedule:       GetSchedule(),
		MaxRetries:     GetMaxRetries(),
		StaleAfter:     GetStaleAfter(),
		StateDir:       StateDir(),
		Namespace:      GetNamespace(),
		NotesRef:       GetNotesRef(),
		SemanticSearch: GetSemanticSearch(),
		EmbeddingModel: GetEmbeddingModel(),
		OllamaURL:      GetOllamaURL(),
		LogLevel:       GetLogLevel(),
	}
}

// EmbeddingsDir is where cached vectors live
func (s Settings) EmbeddingsDir() string {
	return filepath.Join(s.StateDir, "embeddings")
}

// LogFile is the hook-mode log sink
func (s Settings) LogFile() string {
	return filepath.Join(s.StateDir, "rewind.log")
}
