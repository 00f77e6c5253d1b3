package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pders01/git-rewind/internal/config"
	"github.com/pders01/git-rewind/internal/logging"
)

var cfgFile string

// closeLog flushes the hook-mode log file after a command ran
var closeLog = func() {}

var rootCmd = &cobra.Command{
	Use:   "rewind",
	Short: "Conflict-free point-in-time snapshots of a git work tree",
	Long: `rewind captures the state of your work tree as immutable snapshots
without touching git's index, so it can run from editor and agent hooks
while you keep working.

Snapshots live under refs/rewind/<branch>/ and can be listed, searched,
restored with travel, and cleaned up once their branch is gone.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
	PersistentPostRun: func(cmd *cobra.Command, args []string) { closeLog() },
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/rewind/config.toml)")
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "rewind"), nil
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if dir, err := configDir(); err != nil {
		// no home, no config file: defaults and REWIND_* still apply
		log.WithError(err).Debug("cannot locate config dir, skipping config file")
	} else {
		viper.AddConfigPath(dir)
		viper.SetConfigType("toml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("REWIND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	config.SetDefaults()

	if err := viper.ReadInConfig(); err == nil {
		log.WithField("file", viper.ConfigFileUsed()).Debug("using config file")
	}
}

// setupLogging routes logs to the state dir for hook saves and to stderr
// everywhere else.
func setupLogging(cmd *cobra.Command, args []string) error {
	settings := config.Load()
	hook := false
	if f := cmd.Flags().Lookup("hook"); f != nil {
		hook = f.Value.String() == "true"
	}

	closer, err := logging.Setup(logging.Options{
		Level: settings.LogLevel,
		Hook:  hook,
		File:  settings.LogFile(),
	})
	if err != nil {
		if hook {
			return nil
		}
		return fmt.Errorf("invalid log.level: %w", err)
	}
	closeLog = closer
	return nil
}

// commandContext tolerates the nil commands tests pass in
func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
