// Package cmd hosts the aurora command tree.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aurora-dev/aurora/internal/config"
	"github.com/aurora-dev/aurora/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string

	// rootViper carries flag bindings into the config loader.
	rootViper = viper.New()
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

var rootCmd = &cobra.Command{
	Use:   "aurora",
	Short: "Autonomous development workflow orchestrator",
	Long: `aurora coordinates a pool of LLM agents through a phased development
workflow: task planning, weighted assignment, sandboxed self-correction,
durable approval breakpoints and cost governance.

Run 'aurora serve' to start the orchestrator and HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .aurora.yaml or ~/.config/aurora/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")

	// Bind flags to viper (errors are nil when flag exists)
	_ = rootViper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = rootViper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// loadConfig builds the validated configuration and a logger over it.
func loadConfig() (*config.Config, *config.Loader, *logging.Logger, error) {
	loader := config.NewLoaderWithViper(rootViper)
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, nil, err
	}
	log := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	return cfg, loader, log, nil
}
