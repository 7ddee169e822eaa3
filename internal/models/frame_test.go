package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameLessOrdersByGenerationThenCounter(t *testing.T) {
	cases := []struct {
		name     string
		a, b     Frame
		expected bool
	}{
		{
			name:     "same generation, lower counter first",
			a:        Frame{Generation: 1, Counter: 1},
			b:        Frame{Generation: 1, Counter: 2},
			expected: true,
		},
		{
			name:     "later generation always sorts after, regardless of counter",
			a:        Frame{Generation: 2, Counter: 1},
			b:        Frame{Generation: 1, Counter: 9999},
			expected: false,
		},
		{
			name:     "earlier generation sorts before even with a higher counter",
			a:        Frame{Generation: 1, Counter: 9999},
			b:        Frame{Generation: 2, Counter: 0},
			expected: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.a.Less(tc.b))
		})
	}
}

func TestSessionIsTerminal(t *testing.T) {
	s := &Session{State: StateTerminated}
	assert.True(t, s.IsTerminal())

	s.State = StateReady
	assert.False(t, s.IsTerminal())
}
