package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-dev/aurora/internal/config"
	"github.com/aurora-dev/aurora/internal/logging"
	"github.com/aurora-dev/aurora/internal/sandbox"
	"github.com/aurora-dev/aurora/internal/testutil"
)

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-08-24")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "aurora 1.2.3")
	assert.Contains(t, out.String(), "commit: abc123")
}

func TestCapsFrom(t *testing.T) {
	caps := capsFrom(config.BudgetConfig{
		DailyCapUSD:   50,
		MonthlyCapUSD: 1000,
	})
	assert.Equal(t, 50.0, caps.DailyUSD)
	assert.Equal(t, 1000.0, caps.MonthlyUSD)
	// Unset thresholds keep the stock values.
	assert.Equal(t, 0.80, caps.AlertThreshold)
	assert.Equal(t, 0.95, caps.PauseThreshold)

	caps = capsFrom(config.BudgetConfig{AlertThreshold: 0.5, PauseThreshold: 0.9})
	assert.Equal(t, 0.5, caps.AlertThreshold)
	assert.Equal(t, 0.9, caps.PauseThreshold)
}

func TestBuildGates(t *testing.T) {
	exec := sandbox.NewExecutor(sandbox.Config{Runtime: "docker"}, logging.NewNop())
	client := &testutil.ScriptedLLM{}

	// Nothing configured: no gates.
	gates := buildGates(&config.Config{}, client, exec)
	assert.Empty(t, gates)

	cfg := &config.Config{}
	cfg.Workflow.SyntaxCommand = []string{"sh", "-c", "true"}
	cfg.Workflow.TestCommand = []string{"sh", "-c", "true"}
	cfg.Workflow.QualityGate = 0.7
	cfg.LLM.CheapModel = "gpt-4o-mini"

	gates = buildGates(cfg, client, exec)
	require.Len(t, gates, 3)
	assert.Equal(t, "syntax", gates[0].Name())
	assert.Equal(t, "tests", gates[1].Name())
	assert.Equal(t, "quality", gates[2].Name())
}

func TestExitErrorUnwraps(t *testing.T) {
	inner := assert.AnError
	err := &ExitError{Code: 3, Err: inner}
	assert.Equal(t, inner.Error(), err.Error())
	assert.ErrorIs(t, err, inner)
}
