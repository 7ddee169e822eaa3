package quota

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cosimio/cosim/internal/config"
)

func TestPolicyForFallsBackToFreeTier(t *testing.T) {
	e := &Enforcer{policies: config.DefaultPolicies()}

	assert.Equal(t, "pro", e.PolicyFor("pro").Tier)
	assert.Equal(t, "free", e.PolicyFor("nonexistent-tier").Tier, "unrecognized tiers should fall back to free")
}

func TestExceededErrorMessage(t *testing.T) {
	err := &ExceededError{Reason: "org-1 at max concurrent sessions (1)"}
	assert.Contains(t, err.Error(), "org-1 at max concurrent sessions (1)")
}

func TestIsExceededMatchesExceededErrorEvenWrapped(t *testing.T) {
	base := &ExceededError{Reason: "over budget"}
	wrapped := fmt.Errorf("admission failed: %w", base)

	assert.True(t, IsExceeded(wrapped))
	assert.False(t, IsExceeded(errors.New("some other failure")))
}

func TestGpuClassAllowed(t *testing.T) {
	policy := &config.Policy{AllowedGPUClasses: []string{"t4", "a10"}}

	assert.True(t, gpuClassAllowed(policy, ""), "no GPU class requested should always be allowed")
	assert.True(t, gpuClassAllowed(policy, "t4"))
	assert.False(t, gpuClassAllowed(policy, "a100"))
}
