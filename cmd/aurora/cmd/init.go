package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aurora-dev/aurora/internal/config"
)

const initConfigPath = ".aurora.yaml"

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write the default configuration to .aurora.yaml in the current
directory. Existing files are left alone unless --force is given.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	if !initForce {
		if _, err := os.Stat(initConfigPath); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", initConfigPath)
		}
	}

	// Loading with no config file present yields the defaults.
	loader := config.NewLoader()
	if _, err := loader.Load(); err != nil {
		return err
	}

	out, err := yaml.Marshal(loader.Viper().AllSettings())
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}

	header := []byte("# aurora configuration. Values can also be set via AURORA_* env vars.\n")
	if err := os.WriteFile(initConfigPath, append(header, out...), 0o644); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", initConfigPath)
	return nil
}
