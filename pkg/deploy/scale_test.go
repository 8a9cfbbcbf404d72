package deploy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/forge/pkg/config"
)

func defaultAutoScale() config.AutoScaleSpec {
	return config.AutoScaleSpec{
		CPUUpPct:     75,
		CPUDownPct:   20,
		MemUpPct:     80,
		MemDownPct:   30,
		RPSUp:        500,
		RPSDown:      50,
		CooldownUp:   5 * time.Minute,
		CooldownDown: 10 * time.Minute,
		MinServers:   1,
		MaxServers:   20,
	}
}

func TestWindowAveragesAndEviction(t *testing.T) {
	w := NewWindow()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	w.Add(Sample{At: now.Add(-20 * time.Minute), CPUPct: 99}) // evicted once a newer sample lands
	w.Add(Sample{At: now, CPUPct: 50, MemPct: 40, RPS: 100})
	w.Add(Sample{At: now, CPUPct: 30, MemPct: 20, RPS: 50})

	cpu, mem, rps := w.Averages()
	assert.InDelta(t, 40, cpu, 0.001)
	assert.InDelta(t, 30, mem, 0.001)
	assert.InDelta(t, 75, rps, 0.001)
}

func TestEvaluateScalesUpVertically(t *testing.T) {
	as := defaultAutoScale()
	w := NewWindow()
	now := time.Now()
	w.Add(Sample{At: now, CPUPct: 90, MemPct: 50, RPS: 10})

	tracker := NewCooldownTracker()
	decision := Evaluate(as, w, tracker, now, 1, 512, 2)

	assert.Equal(t, DirectionUp, decision.Direction)
	assert.True(t, decision.Vertical)
	assert.Equal(t, 2, decision.NewCPU)
	assert.Equal(t, 1024, decision.NewMemory)
}

func TestEvaluateScalesDownVertically(t *testing.T) {
	as := defaultAutoScale()
	w := NewWindow()
	now := time.Now()
	w.Add(Sample{At: now, CPUPct: 5, MemPct: 5, RPS: 1})

	tracker := NewCooldownTracker()
	decision := Evaluate(as, w, tracker, now, 4, 1024, 2)

	assert.Equal(t, DirectionDown, decision.Direction)
	assert.True(t, decision.Vertical)
	assert.Equal(t, 2, decision.NewCPU)
	assert.Equal(t, 512, decision.NewMemory)
}

func TestEvaluateNoChangeWithinThresholds(t *testing.T) {
	as := defaultAutoScale()
	w := NewWindow()
	now := time.Now()
	w.Add(Sample{At: now, CPUPct: 50, MemPct: 50, RPS: 100})

	tracker := NewCooldownTracker()
	decision := Evaluate(as, w, tracker, now, 1, 512, 2)

	assert.Equal(t, DirectionNone, decision.Direction)
}

func TestEvaluateRespectsCooldown(t *testing.T) {
	as := defaultAutoScale()
	w := NewWindow()
	now := time.Now()
	w.Add(Sample{At: now, CPUPct: 90, MemPct: 50, RPS: 10})

	tracker := NewCooldownTracker()
	first := Evaluate(as, w, tracker, now, 1, 512, 2)
	assert.Equal(t, DirectionUp, first.Direction)
	assert.True(t, first.Vertical)

	// Same tracker, one minute later: still inside the 5-minute cooldown.
	second := Evaluate(as, w, tracker, now.Add(time.Minute), 2, 1024, 2)
	assert.Equal(t, DirectionUp, second.Direction)
	assert.False(t, second.Vertical)
	assert.Greater(t, second.CooldownLeft, time.Duration(0))
}

func TestEvaluateHorizontalClampsToBounds(t *testing.T) {
	as := defaultAutoScale()
	as.MaxServers = 3

	decision := EvaluateHorizontal(as, DirectionUp, 3)
	assert.Equal(t, 3, decision.NewServers)

	as.MinServers = 2
	decision = EvaluateHorizontal(as, DirectionDown, 2)
	assert.Equal(t, 2, decision.NewServers)
}
