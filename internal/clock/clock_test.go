package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v := NewVirtual(start)

	ch := v.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("should not fire before advance")
	default:
	}

	v.Advance(3 * time.Second)
	select {
	case <-ch:
		t.Fatal("should not fire before deadline")
	default:
	}

	v.Advance(2 * time.Second)
	select {
	case fired := <-ch:
		assert.Equal(t, start.Add(5*time.Second), fired)
	default:
		t.Fatal("expected channel to fire after deadline elapsed")
	}
}

func TestVirtualTickerFiresRepeatedly(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v := NewVirtual(start)

	ticker := v.NewTicker(1 * time.Second)

	v.Advance(1 * time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("expected first tick")
	}

	v.Advance(1 * time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("expected second tick")
	}
}

func TestRealClockAdvancesMonotonically(t *testing.T) {
	r := Real{}
	first := r.Now()
	<-r.After(time.Millisecond)
	require.True(t, r.Now().After(first) || r.Now().Equal(first))
}
