package deploy

import (
	"sync"
	"time"

	"github.com/cuemby/forge/pkg/config"
)

// Sample is one per-host resource reading taken every 60s (spec §4.G
// "Auto-scaling").
type Sample struct {
	At       time.Time
	CPUPct   float64
	MemPct   float64
	RPS      float64
}

const sampleWindow = 10 * time.Minute

// Window holds one service's rolling 10-minute sample history across all
// of its hosts. Not safe for concurrent use beyond its own methods.
type Window struct {
	mu      sync.Mutex
	samples []Sample
}

// NewWindow creates an empty rolling sample window.
func NewWindow() *Window {
	return &Window{}
}

// Add records a new sample and evicts anything older than the window.
func (w *Window) Add(s Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, s)
	cutoff := s.At.Add(-sampleWindow)
	kept := w.samples[:0]
	for _, existing := range w.samples {
		if existing.At.After(cutoff) {
			kept = append(kept, existing)
		}
	}
	w.samples = kept
}

// Averages returns the mean CPU%, memory%, and RPS across the current
// window, or zeros if no samples have landed yet.
func (w *Window) Averages() (cpuPct, memPct, rps float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) == 0 {
		return 0, 0, 0
	}
	var cpuSum, memSum, rpsSum float64
	for _, s := range w.samples {
		cpuSum += s.CPUPct
		memSum += s.MemPct
		rpsSum += s.RPS
	}
	n := float64(len(w.samples))
	return cpuSum / n, memSum / n, rpsSum / n
}

// Direction is the scaling decision the leader reaches once per 5-minute
// cycle (spec §4.G "Auto-scaling").
type Direction string

const (
	DirectionNone Direction = ""
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Decision is what one auto-scale evaluation produces: either no change,
// a vertical resize, or a horizontal replica change. Vertical is always
// preferred over horizontal within a single cycle (spec §4.G).
type Decision struct {
	Direction    Direction
	Vertical     bool
	NewCPU       int
	NewMemory    int
	NewServers   int
	CooldownLeft time.Duration
}

// CooldownTracker remembers the last time a service scaled up or down, so
// Evaluate can enforce spec §4.G's cooldown windows (5 min up, 10 min
// down) independent of the sample window.
type CooldownTracker struct {
	mu       sync.Mutex
	lastUp   time.Time
	lastDown time.Time
}

func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{}
}

func (c *CooldownTracker) record(dir Direction, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dir == DirectionUp {
		c.lastUp = at
	} else if dir == DirectionDown {
		c.lastDown = at
	}
}

func (c *CooldownTracker) remaining(dir Direction, now time.Time, cooldownUp, cooldownDown time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var last time.Time
	var window time.Duration
	if dir == DirectionUp {
		last, window = c.lastUp, cooldownUp
	} else {
		last, window = c.lastDown, cooldownDown
	}
	if last.IsZero() {
		return 0
	}
	elapsed := now.Sub(last)
	if elapsed >= window {
		return 0
	}
	return window - elapsed
}

// Evaluate compares a service's rolling averages against its configured
// thresholds and returns the scaling action to take, if any. currentCPU/
// currentMemory/currentServers describe the service's present
// server_cpu/server_memory/servers_count.
func Evaluate(as config.AutoScaleSpec, window *Window, tracker *CooldownTracker, now time.Time, currentCPU, currentMemory, currentServers int) Decision {
	cpuPct, memPct, rps := window.Averages()

	scaleUp := cpuPct >= float64(as.CPUUpPct) || memPct >= float64(as.MemUpPct) || rps >= float64(as.RPSUp)
	scaleDown := !scaleUp && cpuPct <= float64(as.CPUDownPct) && memPct <= float64(as.MemDownPct) && rps <= float64(as.RPSDown)

	var dir Direction
	switch {
	case scaleUp:
		dir = DirectionUp
	case scaleDown:
		dir = DirectionDown
	default:
		return Decision{}
	}

	if left := tracker.remaining(dir, now, as.CooldownUp, as.CooldownDown); left > 0 {
		return Decision{Direction: dir, CooldownLeft: left}
	}

	// Vertical before horizontal: try to resize within the current host
	// shape first; once that's maxed out in the scale-up direction, or
	// already at the minimum shape in the scale-down direction, the
	// caller should fall back to a horizontal decision instead (the
	// per-service vertical ceiling/floor is policy the caller owns, not
	// this evaluator — Evaluate always proposes vertical first).
	decision := Decision{Direction: dir, Vertical: true}
	if dir == DirectionUp {
		decision.NewCPU = currentCPU * 2
		decision.NewMemory = currentMemory * 2
	} else {
		decision.NewCPU = currentCPU / 2
		if decision.NewCPU < 1 {
			decision.NewCPU = 1
		}
		decision.NewMemory = currentMemory / 2
		if decision.NewMemory < 1 {
			decision.NewMemory = 1
		}
	}

	decision.NewServers = currentServers
	tracker.record(dir, now)
	return decision
}

// EvaluateHorizontal is called by the caller when a vertical Decision was
// rejected (e.g. the service is already at its provider's largest/
// smallest instance shape), falling back to adjusting servers_count
// within [MinServers, MaxServers].
func EvaluateHorizontal(as config.AutoScaleSpec, dir Direction, currentServers int) Decision {
	newCount := currentServers
	if dir == DirectionUp {
		newCount = currentServers + 1
	} else {
		newCount = currentServers - 1
	}
	if newCount < as.MinServers {
		newCount = as.MinServers
	}
	if newCount > as.MaxServers {
		newCount = as.MaxServers
	}
	return Decision{Direction: dir, Vertical: false, NewServers: newCount}
}
