package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/alpkeskin/gotoon"

	"github.com/pders01/git-rewind/internal/config"
	"github.com/pders01/git-rewind/internal/engine"
	"github.com/pders01/git-rewind/internal/git"
	"github.com/pders01/git-rewind/internal/queue"
)

// openRepo opens the repository containing the working directory
func openRepo() (*git.Repository, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return git.Open(wd)
}

// newEngine wires queue, guard and writer from settings
func newEngine(s config.Settings) *engine.Engine {
	q := queue.New(s.StateDir, queue.Options{
		MaxRetries: s.MaxRetries,
		StaleAfter: s.StaleAfter,
	})
	return engine.New(engine.Settings{
		MaxWait:   s.MaxWait,
		Schedule:  s.Schedule,
		Namespace: s.Namespace,
		NotesRef:  s.NotesRef,
	}, q)
}

// emit prints v as JSON or toon when requested and reports whether it did
func emit(v interface{}, asJSON, asToon bool) (bool, error) {
	if asJSON {
		output, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return true, nil
	}

	if asToon {
		output, err := gotoon.Encode(v)
		if err != nil {
			return true, fmt.Errorf("failed to encode Toon: %w", err)
		}
		fmt.Println(output)
		return true, nil
	}

	return false, nil
}
