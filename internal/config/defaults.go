package config

import "github.com/spf13/viper"

// setDefaults configures default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("state.path", ".aurora/state.db")
	v.SetDefault("state.export_path", "")

	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.cheap_model", "")
	v.SetDefault("llm.standard_model", "")
	v.SetDefault("llm.high_model", "")

	v.SetDefault("memory.path", ".aurora/memory.db")
	v.SetDefault("memory.working_ttl", "1h")
	v.SetDefault("memory.promotion_threshold", 3)

	v.SetDefault("sandbox.runtime", "docker")
	v.SetDefault("sandbox.image", "ubuntu:24.04")
	v.SetDefault("sandbox.network_policy", "restricted")
	v.SetDefault("sandbox.cpu_quota", "1.0")
	v.SetDefault("sandbox.memory_mb", 2048)
	v.SetDefault("sandbox.pids_limit", 256)
	v.SetDefault("sandbox.timeout", "10m")

	v.SetDefault("budget.daily_cap_usd", 50.0)
	v.SetDefault("budget.monthly_cap_usd", 1000.0)
	v.SetDefault("budget.project_cap_usd", 25.0)
	v.SetDefault("budget.alert_threshold", 0.80)
	v.SetDefault("budget.pause_threshold", 0.95)

	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.stuck_threshold", "15m")
	v.SetDefault("health.quarantine", "10m")

	v.SetDefault("scheduler.max_concurrent", 4)
	v.SetDefault("scheduler.ready_soft_limit", 128)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.cancel_grace", "30s")
	v.SetDefault("scheduler.workspace_dir", ".aurora/workspaces")

	v.SetDefault("workflow.max_parallel", 4)
	v.SetDefault("workflow.loop_max_attempts", 5)
	v.SetDefault("workflow.quality_gate", 0.7)
}
