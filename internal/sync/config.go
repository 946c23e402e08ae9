package sync

import (
	"time"

	"github.com/cybertec-postgresql/gamesync/internal/fetch"
	"github.com/cybertec-postgresql/gamesync/internal/record"
)

// DefaultInterRequestDelay keeps item writes under three per second per slot
const DefaultInterRequestDelay = 334 * time.Millisecond

// ThrottleConfig bounds write concurrency and pacing
type ThrottleConfig struct {
	MaxConcurrentRequests int           // item writes in flight per batch
	MaxConcurrentBatches  int           // batches in flight
	InterRequestDelay     time.Duration // pause after every item write, holding its slot
}

// DefaultThrottle returns the throttle used when none is configured
func DefaultThrottle() ThrottleConfig {
	return ThrottleConfig{
		MaxConcurrentRequests: 3,
		MaxConcurrentBatches:  2,
		InterRequestDelay:     DefaultInterRequestDelay,
	}
}

// withDefaults replaces non-positive capacities with the defaults
func (t ThrottleConfig) withDefaults() ThrottleConfig {
	d := DefaultThrottle()
	if t.MaxConcurrentRequests < 1 {
		t.MaxConcurrentRequests = d.MaxConcurrentRequests
	}
	if t.MaxConcurrentBatches < 1 {
		t.MaxConcurrentBatches = d.MaxConcurrentBatches
	}
	if t.InterRequestDelay < 0 {
		t.InterRequestDelay = 0
	}
	return t
}

// MaxInFlight is the largest number of item writes that may run at once
func (t ThrottleConfig) MaxInFlight() int {
	t = t.withDefaults()
	return t.MaxConcurrentBatches * t.MaxConcurrentRequests
}

// Config holds the settings of one reconciliation run
type Config struct {
	BatchSize int
	Throttle  ThrottleConfig
	PageDelay time.Duration
	DryRun    bool
}

// DefaultConfig returns the run settings used when none are configured
func DefaultConfig() Config {
	return Config{
		BatchSize: record.DefaultBatchSize,
		Throttle:  DefaultThrottle(),
		PageDelay: fetch.DefaultPageDelay,
	}
}
