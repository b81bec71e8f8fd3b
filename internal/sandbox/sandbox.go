// Package sandbox executes untrusted generated code in containers.
//
// Commands run through the container runtime CLI (docker or podman) with
// CPU, memory, pids and network limits. Infrastructure failures are
// reported as SANDBOX_UNAVAILABLE and retried by the caller; a non-zero
// exit from the command itself is an ordinary result, not an error.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/logging"
)

// NetworkPolicy controls container network access.
type NetworkPolicy string

const (
	// NetworkIsolated gives the container no network.
	NetworkIsolated NetworkPolicy = "isolated"

	// NetworkInternal allows loopback only. Docker's none network keeps
	// lo, so both isolated and internal map to it.
	NetworkInternal NetworkPolicy = "internal"

	// NetworkRestricted is the default: network on, for dependency
	// resolution during builds. Finer egress control is the runtime's job.
	NetworkRestricted NetworkPolicy = "restricted"

	// NetworkOpen disables restrictions entirely.
	NetworkOpen NetworkPolicy = "open"
)

// DefaultTimeout bounds a single sandbox execution.
const DefaultTimeout = 10 * time.Minute

const outputLimit = 1 << 20 // 1 MiB per stream

// Config describes the container limits.
type Config struct {
	Runtime   string // docker or podman
	Image     string
	Network   NetworkPolicy
	CPUQuota  string // e.g. "2"
	MemoryMB  int
	PidsLimit int
	Timeout   time.Duration
}

// ExecSpec is one command to run.
type ExecSpec struct {
	WorkDir string   // host directory mounted at /workspace
	Command []string // argv, run inside the container
	Env     map[string]string

	// Secrets are staged as files under /run/secrets, one per key. They
	// never enter the container environment, so they stay out of the
	// runtime's inspect output.
	Secrets map[string]string
}

// ExecResult is the observed outcome of a sandbox run.
type ExecResult struct {
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	ExitCode   int           `json:"exit_code"`
	Duration   time.Duration `json:"duration"`
	PeakMemory uint64        `json:"peak_memory_bytes"`
	TimedOut   bool          `json:"timed_out"`
}

// Success reports a zero exit without timeout.
func (r *ExecResult) Success() bool { return r.ExitCode == 0 && !r.TimedOut }

// Executor runs commands in containers.
type Executor struct {
	cfg Config
	log *logging.Logger
}

// NewExecutor creates a sandbox executor.
func NewExecutor(cfg Config, log *logging.Logger) *Executor {
	if cfg.Runtime == "" {
		cfg.Runtime = "docker"
	}
	if cfg.Network == "" {
		cfg.Network = NetworkRestricted
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Executor{cfg: cfg, log: log}
}

// CheckAvailable verifies the container runtime is reachable.
func (e *Executor) CheckAvailable(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, e.cfg.Runtime, "info", "--format", "{{.ServerVersion}}")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return core.ErrSandboxUnavailable(
			fmt.Sprintf("%s runtime unreachable: %s", e.cfg.Runtime,
				strings.TrimSpace(string(out)))).WithCause(err)
	}
	return nil
}

// Args builds the container invocation for a spec. secretsDir, when
// non-empty, is the staged host directory mounted read-only at
// /run/secrets. Exposed for tests.
func (e *Executor) Args(spec ExecSpec, secretsDir string) []string {
	args := []string{"run", "--rm",
		"--read-only",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--tmpfs", "/tmp",
		"--workdir", "/workspace",
		"-v", spec.WorkDir + ":/workspace",
	}
	if secretsDir != "" {
		args = append(args, "-v", secretsDir+":/run/secrets:ro")
	}
	if e.cfg.Network == NetworkIsolated || e.cfg.Network == NetworkInternal {
		args = append(args, "--network", "none")
	}
	if e.cfg.CPUQuota != "" {
		args = append(args, "--cpus", e.cfg.CPUQuota)
	}
	if e.cfg.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", e.cfg.MemoryMB))
	}
	if e.cfg.PidsLimit > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", e.cfg.PidsLimit))
	}
	for k, v := range spec.Env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, e.cfg.Image)
	args = append(args, spec.Command...)
	return args
}

// Execute runs the command. The error return covers infrastructure failures
// only; inspect the result for the command's own outcome.
func (e *Executor) Execute(ctx context.Context, spec ExecSpec) (*ExecResult, error) {
	if len(spec.Command) == 0 {
		return nil, core.ErrValidation("EMPTY_COMMAND", "sandbox command cannot be empty")
	}

	secretsDir, err := stageSecrets(spec.Secrets)
	if err != nil {
		return nil, err
	}
	if secretsDir != "" {
		defer os.RemoveAll(secretsDir)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.cfg.Runtime, e.Args(spec, secretsDir)...)
	var stdout, stderr limitedBuffer
	stdout.limit = outputLimit
	stderr.limit = outputLimit
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err = cmd.Start(); err != nil {
		return nil, core.ErrSandboxUnavailable(
			fmt.Sprintf("starting %s: %v", e.cfg.Runtime, err)).WithCause(err)
	}

	peakCh := make(chan uint64, 1)
	sampleCtx, stopSampling := context.WithCancel(runCtx)
	go samplePeakMemory(sampleCtx, int32(cmd.Process.Pid), peakCh)

	err = cmd.Wait()
	stopSampling()
	duration := time.Since(start)
	peak := <-peakCh

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Duration:   duration,
		PeakMemory: peak,
		TimedOut:   errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}

	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		// 125 is the runtime's own failure, not the command's.
		if result.ExitCode == 125 && !result.TimedOut {
			return nil, core.ErrSandboxUnavailable(
				fmt.Sprintf("%s failed: %s", e.cfg.Runtime,
					firstLine(result.Stderr)))
		}
		return result, nil
	}
	return nil, core.ErrSandboxUnavailable(
		fmt.Sprintf("waiting for %s: %v", e.cfg.Runtime, err)).WithCause(err)
}

// stageSecrets writes secret values into a private host directory for a
// read-only bind mount. Returns "" when there are no secrets.
func stageSecrets(secrets map[string]string) (string, error) {
	if len(secrets) == 0 {
		return "", nil
	}
	for name := range secrets {
		if name == "" || filepath.Base(name) != name {
			return "", core.ErrValidation("BAD_SECRET_NAME",
				fmt.Sprintf("secret name %q must be a bare file name", name))
		}
	}

	dir, err := os.MkdirTemp("", "aurora-secrets-")
	if err != nil {
		return "", core.ErrSandboxUnavailable("staging secrets: " + err.Error()).WithCause(err)
	}
	for name, value := range secrets {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(value), 0o600); err != nil {
			_ = os.RemoveAll(dir)
			return "", core.ErrSandboxUnavailable("writing secret " + name).WithCause(err)
		}
	}
	return dir, nil
}

// samplePeakMemory polls the runtime process tree's RSS until the context
// ends, reporting the peak. Approximates container usage from the host
// side; the hard ceiling is still the --memory limit.
func samplePeakMemory(ctx context.Context, pid int32, out chan<- uint64) {
	var peak uint64
	defer func() { out <- peak }()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	proc, err := process.NewProcess(pid)
	if err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := rssWithChildren(proc)
			if total > peak {
				peak = total
			}
		}
	}
}

func rssWithChildren(proc *process.Process) uint64 {
	var total uint64
	if mi, err := proc.MemoryInfo(); err == nil {
		total += mi.RSS
	}
	children, err := proc.Children()
	if err != nil {
		return total
	}
	for _, child := range children {
		if mi, err := child.MemoryInfo(); err == nil {
			total += mi.RSS
		}
	}
	return total
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// limitedBuffer keeps the first limit bytes and discards the rest.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
