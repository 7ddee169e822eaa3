package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuotaLedgerRemainingClampsAtZero(t *testing.T) {
	q := &QuotaLedger{CPUMinutesUsed: 700, GPUMinutesUsed: 50}

	cpu, gpu := q.Remaining(600, 100)
	assert.Equal(t, int64(0), cpu, "usage past the hard cap should clamp to zero, not go negative")
	assert.Equal(t, int64(50), gpu)
}

func TestQuotaLedgerRemainingUnderCap(t *testing.T) {
	q := &QuotaLedger{CPUMinutesUsed: 100, GPUMinutesUsed: 0}

	cpu, gpu := q.Remaining(600, 100)
	assert.Equal(t, int64(500), cpu)
	assert.Equal(t, int64(100), gpu)
}
