package config

import (
	"fmt"
	"time"

	"github.com/aurora-dev/aurora/internal/core"
)

// Validate checks the configuration for consistency. It is called once at
// startup; an invalid config is a hard startup failure.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path: cannot be empty")
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"memory.working_ttl", cfg.Memory.WorkingTTL},
		{"sandbox.timeout", cfg.Sandbox.Timeout},
		{"health.interval", cfg.Health.Interval},
		{"health.stuck_threshold", cfg.Health.StuckThreshold},
		{"health.quarantine", cfg.Health.Quarantine},
		{"scheduler.cancel_grace", cfg.Scheduler.CancelGrace},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}

	if cfg.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.max_concurrent: must be at least 1, got %d", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Scheduler.ReadySoftLimit < 1 {
		return fmt.Errorf("scheduler.ready_soft_limit: must be at least 1, got %d", cfg.Scheduler.ReadySoftLimit)
	}

	if cfg.Budget.DailyCapUSD < 0 || cfg.Budget.MonthlyCapUSD < 0 {
		return fmt.Errorf("budget caps cannot be negative")
	}
	if cfg.Budget.AlertThreshold <= 0 || cfg.Budget.AlertThreshold >= 1 {
		return fmt.Errorf("budget.alert_threshold: must be in (0,1), got %v", cfg.Budget.AlertThreshold)
	}
	if cfg.Budget.PauseThreshold <= cfg.Budget.AlertThreshold || cfg.Budget.PauseThreshold > 1 {
		return fmt.Errorf("budget.pause_threshold: must be in (alert_threshold,1], got %v", cfg.Budget.PauseThreshold)
	}

	switch cfg.Sandbox.NetworkPolicy {
	case "isolated", "internal", "restricted", "open":
	default:
		return fmt.Errorf("sandbox.network_policy: unknown policy %q", cfg.Sandbox.NetworkPolicy)
	}

	if cfg.Workflow.LoopMaxAttempts < 1 {
		return fmt.Errorf("workflow.loop_max_attempts: must be at least 1")
	}
	if cfg.Workflow.QualityGate < 0 || cfg.Workflow.QualityGate > 1 {
		return fmt.Errorf("workflow.quality_gate: must be in [0,1]")
	}

	seen := make(map[string]bool)
	for i, a := range cfg.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d]: id cannot be empty", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		if !core.ValidRole(core.AgentRole(a.Role)) {
			return fmt.Errorf("agents[%d]: unknown role %q", i, a.Role)
		}
		if a.ContextLimit <= 0 {
			return fmt.Errorf("agents[%d]: context_limit must be positive", i)
		}
		switch core.ModelTier(a.Tier) {
		case "", core.TierCheap, core.TierStandard, core.TierHigh:
		default:
			return fmt.Errorf("agents[%d]: unknown tier %q", i, a.Tier)
		}
	}

	return nil
}

// Duration parses a duration field, returning the fallback when unset.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
