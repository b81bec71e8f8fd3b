package config

// Config holds all orchestrator configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	State     StateConfig     `mapstructure:"state"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Health    HealthConfig    `mapstructure:"health"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Agents    []AgentConfig   `mapstructure:"agents"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr            string `mapstructure:"addr"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

// StateConfig configures snapshot and event-log persistence.
type StateConfig struct {
	Path       string `mapstructure:"path"`
	ExportPath string `mapstructure:"export_path"` // optional JSON snapshot mirror
}

// LLMConfig configures the model provider transport.
type LLMConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Endpoint      string `mapstructure:"endpoint"`
	CheapModel    string `mapstructure:"cheap_model"`
	StandardModel string `mapstructure:"standard_model"`
	HighModel     string `mapstructure:"high_model"`
}

// MemoryConfig configures the hierarchical memory.
type MemoryConfig struct {
	Path               string `mapstructure:"path"`
	EmbeddingEndpoint  string `mapstructure:"embedding_endpoint"`
	EmbeddingModel     string `mapstructure:"embedding_model"`
	LocalModel         string `mapstructure:"local_model"`
	WorkingTTL         string `mapstructure:"working_ttl"`
	PromotionThreshold int    `mapstructure:"promotion_threshold"`
}

// SandboxConfig configures the container executor.
type SandboxConfig struct {
	Runtime       string `mapstructure:"runtime"` // docker or podman
	Image         string `mapstructure:"image"`
	NetworkPolicy string `mapstructure:"network_policy"`
	CPUQuota      string `mapstructure:"cpu_quota"`
	MemoryMB      int    `mapstructure:"memory_mb"`
	PidsLimit     int    `mapstructure:"pids_limit"`
	Timeout       string `mapstructure:"timeout"`
}

// BudgetConfig configures the cost governor.
type BudgetConfig struct {
	DailyCapUSD    float64 `mapstructure:"daily_cap_usd"`
	MonthlyCapUSD  float64 `mapstructure:"monthly_cap_usd"`
	ProjectCapUSD  float64 `mapstructure:"project_cap_usd"`
	AlertThreshold float64 `mapstructure:"alert_threshold"`
	PauseThreshold float64 `mapstructure:"pause_threshold"`
}

// HealthConfig configures the heartbeat monitor.
type HealthConfig struct {
	Interval       string `mapstructure:"interval"`
	StuckThreshold string `mapstructure:"stuck_threshold"`
	Quarantine     string `mapstructure:"quarantine"`
}

// SchedulerConfig configures task scheduling.
type SchedulerConfig struct {
	MaxConcurrent  int    `mapstructure:"max_concurrent"`
	ReadySoftLimit int    `mapstructure:"ready_soft_limit"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	CancelGrace    string `mapstructure:"cancel_grace"`
	WorkspaceDir   string `mapstructure:"workspace_dir"`
}

// WorkflowConfig configures the state machine.
type WorkflowConfig struct {
	MaxParallel     int     `mapstructure:"max_parallel"`
	LoopMaxAttempts int     `mapstructure:"loop_max_attempts"`
	QualityGate     float64 `mapstructure:"quality_gate"`

	// Sandbox gate commands. Empty disables the gate.
	SyntaxCommand []string `mapstructure:"syntax_command"`
	TestCommand   []string `mapstructure:"test_command"`
}

// AgentConfig configures a single registered agent.
type AgentConfig struct {
	ID           string `mapstructure:"id"`
	Role         string `mapstructure:"role"`
	Model        string `mapstructure:"model"`
	ContextLimit int    `mapstructure:"context_limit"`
	Tier         string `mapstructure:"tier"`
	MaxTasks     int    `mapstructure:"max_tasks"`
}
