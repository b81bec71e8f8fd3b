package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"github.com/aurora-dev/aurora/internal/config"
	"github.com/aurora-dev/aurora/internal/llm"
	"github.com/aurora-dev/aurora/internal/memory"
	"github.com/aurora-dev/aurora/internal/sandbox"
	"github.com/aurora-dev/aurora/internal/state"
)

// Doctor exit codes, one per failing subsystem.
const (
	exitPersistence = 2
	exitSandbox     = 3
	exitLLM         = 4
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check orchestrator dependencies",
	Long: `Verify that persistence, the sandbox runtime and the LLM provider are
reachable. Exits 2 on persistence failure, 3 on sandbox failure, 4 on
LLM failure.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg, _, log, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	fmt.Fprintln(out, "Checking aurora dependencies...")
	fmt.Fprintln(out)

	printHostInfo(out, cfg)

	if err := checkPersistence(cfg); err != nil {
		fmt.Fprintf(out, "  ✗ persistence: %v\n", err)
		return &ExitError{Code: exitPersistence, Err: err}
	}
	fmt.Fprintf(out, "  ✓ persistence (%s)\n", cfg.State.Path)

	executor := sandbox.NewExecutor(sandbox.Config{
		Runtime: cfg.Sandbox.Runtime,
		Image:   cfg.Sandbox.Image,
	}, log)
	if err := executor.CheckAvailable(ctx); err != nil {
		fmt.Fprintf(out, "  ✗ sandbox runtime (%s): %v\n", cfg.Sandbox.Runtime, err)
		return &ExitError{Code: exitSandbox, Err: err}
	}
	fmt.Fprintf(out, "  ✓ sandbox runtime (%s)\n", cfg.Sandbox.Runtime)

	client := llm.New(cfg.LLM.APIKey, cfg.LLM.Endpoint, log)
	if err := client.Ping(ctx); err != nil {
		fmt.Fprintf(out, "  ✗ llm provider: %v\n", err)
		return &ExitError{Code: exitLLM, Err: err}
	}
	fmt.Fprintln(out, "  ✓ llm provider")

	fmt.Fprintln(out)
	fmt.Fprintln(out, "All dependencies available")
	return nil
}

// checkPersistence opens and closes both stores read-write.
func checkPersistence(cfg *config.Config) error {
	st, err := state.NewSQLiteStateManager(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	if err := st.Close(); err != nil {
		return fmt.Errorf("state store: %w", err)
	}

	store, err := memory.OpenStore(cfg.Memory.Path)
	if err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	return nil
}

func printHostInfo(out io.Writer, cfg *config.Config) {
	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Fprintf(out, "  host memory: %.1f GiB total, %.1f GiB available\n",
			float64(vm.Total)/(1<<30), float64(vm.Available)/(1<<30))
	}
	if du, err := disk.Usage("."); err == nil {
		fmt.Fprintf(out, "  disk free:   %.1f GiB (sandbox memory cap %d MiB)\n",
			float64(du.Free)/(1<<30), cfg.Sandbox.MemoryMB)
	}
	fmt.Fprintln(out)
}
