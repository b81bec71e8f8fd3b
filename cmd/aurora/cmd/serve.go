package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aurora-dev/aurora/internal/agent"
	"github.com/aurora-dev/aurora/internal/api"
	"github.com/aurora-dev/aurora/internal/assign"
	"github.com/aurora-dev/aurora/internal/budget"
	"github.com/aurora-dev/aurora/internal/config"
	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/events"
	"github.com/aurora-dev/aurora/internal/graph"
	"github.com/aurora-dev/aurora/internal/health"
	"github.com/aurora-dev/aurora/internal/llm"
	"github.com/aurora-dev/aurora/internal/logging"
	"github.com/aurora-dev/aurora/internal/machine"
	"github.com/aurora-dev/aurora/internal/memory"
	"github.com/aurora-dev/aurora/internal/orchestrator"
	"github.com/aurora-dev/aurora/internal/reflexion"
	"github.com/aurora-dev/aurora/internal/sandbox"
	"github.com/aurora-dev/aurora/internal/state"
)

const eventBusBuffer = 256

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator and HTTP API",
	Long: `Start the workflow orchestrator, resume persisted workflows, and serve
the HTTP API and WebSocket event stream until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, loader, log, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	sys, err := buildSystem(cfg, log)
	if err != nil {
		return err
	}
	defer sys.close()

	// Governor knobs follow config file edits without a restart.
	watcher := config.NewWatcher(loader, log)
	watcher.OnReload(func(next *config.Config) {
		sys.governor.SetCaps(capsFrom(next.Budget))
	})
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Warn("config watcher stopped", "error", err.Error())
		}
	}()

	go sys.orch.Run(ctx)

	if err := sys.orch.ResumeFromDisk(ctx); err != nil {
		log.Warn("workflow resume incomplete", "error", err.Error())
	}

	server := api.New(serverConfig(cfg), sys.orch, sys.state, sys.bus, sys.stats, log)
	if err := server.Start(); err != nil {
		return err
	}

	log.Info("aurora ready",
		"addr", cfg.Server.Addr,
		"agents", len(cfg.Agents),
		"version", appVersion)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		config.Duration(cfg.Server.ShutdownTimeout, 15*time.Second))
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// system holds the wired collaborators that need explicit teardown.
type system struct {
	state    *state.SQLiteStateManager
	store    *memory.Store
	bus      *events.Bus
	governor *budget.Governor
	orch     *orchestrator.Orchestrator
	stats    api.StatsSource
}

func (s *system) close() {
	s.bus.Close()
	_ = s.store.Close()
	_ = s.state.Close()
}

// buildSystem assembles the orchestration core from configuration.
func buildSystem(cfg *config.Config, log *logging.Logger) (*system, error) {
	for _, dir := range []string{cfg.State.Path, cfg.Memory.Path} {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	var stateOpts []state.Option
	if cfg.State.ExportPath != "" {
		stateOpts = append(stateOpts, state.WithExportPath(cfg.State.ExportPath))
	}
	stateMgr, err := state.NewSQLiteStateManager(cfg.State.Path, stateOpts...)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	bus := events.New(eventBusBuffer)
	client := llm.New(cfg.LLM.APIKey, cfg.LLM.Endpoint, log)
	governor := budget.NewGovernor(capsFrom(cfg.Budget), bus)

	registry, err := agent.NewRegistry(cfg.Agents)
	if err != nil {
		_ = stateMgr.Close()
		return nil, err
	}

	store, err := memory.OpenStore(cfg.Memory.Path)
	if err != nil {
		_ = stateMgr.Close()
		return nil, fmt.Errorf("opening memory store: %w", err)
	}
	mem := memory.NewHierarchical(store, buildEmbedder(cfg, log), nil, log, memory.Config{
		WorkingTTL:         config.Duration(cfg.Memory.WorkingTTL, time.Hour),
		PromotionThreshold: cfg.Memory.PromotionThreshold,
	})

	executor := sandbox.NewExecutor(sandbox.Config{
		Runtime:   cfg.Sandbox.Runtime,
		Image:     cfg.Sandbox.Image,
		Network:   sandbox.NetworkPolicy(cfg.Sandbox.NetworkPolicy),
		CPUQuota:  cfg.Sandbox.CPUQuota,
		MemoryMB:  cfg.Sandbox.MemoryMB,
		PidsLimit: cfg.Sandbox.PidsLimit,
		Timeout:   config.Duration(cfg.Sandbox.Timeout, 10*time.Minute),
	}, log)

	workspace, err := reflexion.NewWorkspace(cfg.Scheduler.WorkspaceDir)
	if err != nil {
		_ = store.Close()
		_ = stateMgr.Close()
		return nil, err
	}

	capability := agent.NewLLMCapability(client, map[core.ModelTier]string{
		core.TierCheap:    cfg.LLM.CheapModel,
		core.TierStandard: cfg.LLM.StandardModel,
		core.TierHigh:     cfg.LLM.HighModel,
	}, log)

	m := machine.New(stateMgr, bus, log)
	planner := orchestrator.NewLLMPlanner(client, cfg.LLM.StandardModel, governor, log)

	monitorOpts := []health.Option{
		health.WithInterval(config.Duration(cfg.Health.Interval, 30*time.Second)),
		health.WithStuckThreshold(config.Duration(cfg.Health.StuckThreshold, 15*time.Minute)),
		health.WithQuarantine(config.Duration(cfg.Health.Quarantine, 10*time.Minute)),
	}

	var orch *orchestrator.Orchestrator
	loop := reflexion.NewLoop(capability, mem, workspace, buildGates(cfg, client, executor), log,
		reflexion.WithMaxAttempts(cfg.Workflow.LoopMaxAttempts),
		reflexion.WithBudget(governor),
		reflexion.WithHeartbeat(func(id core.TaskID) {
			if orch != nil {
				orch.Monitor().Heartbeat(id)
			}
		}))

	orch = orchestrator.New(stateMgr, bus, m, registry, assign.New(), loop, planner, log,
		monitorOpts,
		orchestrator.WithBudget(governor),
		orchestrator.WithMaxParallel(cfg.Workflow.MaxParallel),
		orchestrator.WithSchedulerOptions(
			graph.WithMaxConcurrent(cfg.Scheduler.MaxConcurrent),
			graph.WithReadySoftLimit(cfg.Scheduler.ReadySoftLimit)))

	return &system{
		state:    stateMgr,
		store:    store,
		bus:      bus,
		governor: governor,
		orch:     orch,
		stats:    &statsAdapter{registry: registry, governor: governor},
	}, nil
}

// buildGates assembles the attempt gate chain: syntax, tests, quality.
func buildGates(cfg *config.Config, client core.LLMClient, exec *sandbox.Executor) []reflexion.Gate {
	var gates []reflexion.Gate
	if len(cfg.Workflow.SyntaxCommand) > 0 {
		gates = append(gates, reflexion.NewSandboxGate("syntax", exec, cfg.Workflow.SyntaxCommand...))
	}
	if len(cfg.Workflow.TestCommand) > 0 {
		gates = append(gates, reflexion.NewSandboxGate("tests", exec, cfg.Workflow.TestCommand...))
	}
	if cfg.Workflow.QualityGate > 0 && cfg.LLM.CheapModel != "" {
		gates = append(gates, reflexion.NewQualityGate(client, cfg.LLM.CheapModel, cfg.Workflow.QualityGate))
	}
	return gates
}

// buildEmbedder prefers the remote embedding endpoint and falls back to
// the deterministic local hasher.
func buildEmbedder(cfg *config.Config, log *logging.Logger) core.Embedder {
	hash := memory.NewHashEmbedder(256)
	if cfg.Memory.EmbeddingEndpoint == "" {
		return hash
	}
	remote := memory.NewRemoteEmbedder(
		cfg.Memory.EmbeddingEndpoint,
		cfg.Memory.EmbeddingModel,
		cfg.LLM.APIKey,
		1536)
	return memory.NewChain(log, remote, hash)
}

func capsFrom(b config.BudgetConfig) budget.Caps {
	caps := budget.DefaultCaps()
	caps.DailyUSD = b.DailyCapUSD
	caps.MonthlyUSD = b.MonthlyCapUSD
	if b.AlertThreshold > 0 {
		caps.AlertThreshold = b.AlertThreshold
	}
	if b.PauseThreshold > 0 {
		caps.PauseThreshold = b.PauseThreshold
	}
	return caps
}

func serverConfig(cfg *config.Config) api.Config {
	apiCfg := api.DefaultConfig()
	apiCfg.Addr = cfg.Server.Addr
	apiCfg.ShutdownTimeout = config.Duration(cfg.Server.ShutdownTimeout, apiCfg.ShutdownTimeout)
	return apiCfg
}

// statsAdapter projects registry and governor snapshots onto the
// dashboard contract.
type statsAdapter struct {
	registry *agent.Registry
	governor *budget.Governor
}

func (a *statsAdapter) AgentStats() []core.AgentStats { return a.registry.Stats() }

func (a *statsAdapter) BudgetStats() api.BudgetStats {
	snap := a.governor.Stats()
	return api.BudgetStats{
		DailySpentUSD:   snap.DailySpentUSD,
		DailyCapUSD:     snap.DailyCapUSD,
		MonthlySpentUSD: snap.MonthlySpentUSD,
		MonthlyCapUSD:   snap.MonthlyCapUSD,
		ReservedUSD:     snap.ReservedUSD,
	}
}
