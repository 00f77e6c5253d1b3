package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pders01/git-rewind/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration and show how to wire hooks",
	Long: `Create ~/.config/rewind/config.toml with every setting at its default
and print the state directory used for the queue and logs.

Run this once per machine. Existing config files are left alone unless
--force is given.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

const defaultConfig = `[guard]
max_wait = "3s"
initial_interval = "50ms"
max_interval = "1s"
multiplier = 2.0

[queue]
max_retries = 5
stale_after = "30s"

[state]
# defaults to $XDG_STATE_HOME/rewind or ~/.local/state/rewind
dir = ""

[snapshot]
namespace = "refs/rewind"
notes_ref = "refs/notes/rewind"

[search]
semantic = false

[embeddings]
model = "nomic-embed-text"
ollama_url = "http://localhost:11434"

[log]
level = "info"
`

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := configDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	configPath := filepath.Join(dir, "config.toml")

	_, statErr := os.Stat(configPath)
	switch {
	case statErr == nil && !initForce:
		fmt.Printf("Config already exists: %s\n", configPath)
	case statErr != nil && !os.IsNotExist(statErr):
		return fmt.Errorf("failed to check config file: %w", statErr)
	default:
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(defaultConfig), 0644); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		fmt.Printf("✓ Created default config: %s\n", configPath)
	}

	fmt.Printf("  State directory: %s\n", config.StateDir())
	fmt.Println("\n✓ rewind initialized successfully!")
	fmt.Println("  Save manually with:   rewind save \"message\"")
	fmt.Println("  Or from a tool hook:  rewind save --hook --tool <name> --file <path>")

	return nil
}
