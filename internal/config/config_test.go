package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvAppliesDefaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, 2*time.Second, cfg.ScheduleInterval)
	assert.Equal(t, 3, cfg.RestartBudget)
	assert.Equal(t, 90*24*time.Hour, cfg.AuditRetention)
}

func TestFromEnvReadsOverrides(t *testing.T) {
	t.Setenv("ORCH_RESTART_BUDGET", "7")
	t.Setenv("ORCH_SCHEDULE_INTERVAL_MS", "500")
	t.Setenv("COSIM_LOG_PRETTY", "true")

	cfg := FromEnv()
	assert.Equal(t, 7, cfg.RestartBudget)
	assert.Equal(t, 500*time.Millisecond, cfg.ScheduleInterval)
	assert.True(t, cfg.LogPretty)
}

func TestLoadPoliciesFallsBackWhenFileMissing(t *testing.T) {
	set, err := LoadPolicies("/nonexistent/path/policies.yaml")
	require.NoError(t, err)
	assert.Contains(t, set, "free")
	assert.Contains(t, set, "pro")
}

func TestLoadPoliciesParsesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/policies.yaml"
	content := `
- tier: custom
  max_concurrent_sessions: 3
  max_concurrent_gpu: 1
  allowed_gpu_classes: ["t4"]
  hard_cpu_minute_cap: 1000
  hard_gpu_minute_cap: 100
  idle_hibernate_seconds: 60
  hibernate_to_terminate_seconds: 120
  max_session_wall_seconds: 3600
  spot_eligible: true
  idle_charge_rate: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	set, err := LoadPolicies(path)
	require.NoError(t, err)
	require.Contains(t, set, "custom")
	assert.Equal(t, 3, set["custom"].MaxConcurrentSessions)
	assert.Equal(t, []string{"t4"}, set["custom"].AllowedGPUClasses)
}
