package actions

import (
	"sync"
	"time"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// CircuitState is the state of one collaborator's breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the per-collaborator circuit breakers.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit short-circuits calls.
	Cooldown time.Duration
	// HalfOpenMax probe calls are let through after the cooldown.
	HalfOpenMax int
}

// DefaultBreakerConfig opens after 5 failures for 30s with one probe.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type breaker struct {
	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	probes      int
}

// Breakers holds one circuit breaker per external collaborator key
// (e.g. "llm", "extraction", "webhook:hooks.example.com").
// It is not a retry layer: an open circuit only fails calls fast.
type Breakers struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewBreakers creates a breaker set. Zero config fields take defaults.
func NewBreakers(cfg BreakerConfig) *Breakers {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = def.HalfOpenMax
	}
	return &Breakers{
		cfg:      cfg,
		now:      time.Now,
		breakers: make(map[string]*breaker),
	}
}

// Allow returns nil if a call to key may proceed, or a CIRCUIT_OPEN error.
func (b *Breakers) Allow(key string) error {
	br := b.get(key)
	br.mu.Lock()
	defer br.mu.Unlock()

	switch br.state {
	case CircuitOpen:
		elapsed := b.now().Sub(br.lastFailure)
		if elapsed < b.cfg.Cooldown {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit open for %q after %d consecutive failures", key, br.failures).
				WithDetails(map[string]any{
					"collaborator":       key,
					"failures":           br.failures,
					"cooldown_remaining": (b.cfg.Cooldown - elapsed).String(),
				})
		}
		br.state = CircuitHalfOpen
		br.probes = 1
		return nil
	case CircuitHalfOpen:
		if br.probes >= b.cfg.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit half-open for %q: probe already in flight", key)
		}
		br.probes++
		return nil
	default:
		return nil
	}
}

// Success closes the circuit for key.
func (b *Breakers) Success(key string) {
	br := b.get(key)
	br.mu.Lock()
	defer br.mu.Unlock()
	br.state = CircuitClosed
	br.failures = 0
	br.probes = 0
}

// Failure records a failed call and returns the resulting state.
func (b *Breakers) Failure(key string) CircuitState {
	br := b.get(key)
	br.mu.Lock()
	defer br.mu.Unlock()

	br.failures++
	br.lastFailure = b.now()
	if br.state == CircuitHalfOpen || br.failures >= b.cfg.FailureThreshold {
		br.state = CircuitOpen
	}
	return br.state
}

// State reports the state of key, moving an expired open circuit to half-open.
func (b *Breakers) State(key string) CircuitState {
	br := b.get(key)
	br.mu.Lock()
	defer br.mu.Unlock()

	if br.state == CircuitOpen && b.now().Sub(br.lastFailure) >= b.cfg.Cooldown {
		br.state = CircuitHalfOpen
		br.probes = 0
	}
	return br.state
}

// Snapshot returns the state name of every known collaborator.
func (b *Breakers) Snapshot() map[string]string {
	b.mu.Lock()
	keys := make([]string, 0, len(b.breakers))
	for k := range b.breakers {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = b.State(k).String()
	}
	return out
}

func (b *Breakers) get(key string) *breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	br, ok := b.breakers[key]
	if !ok {
		br = &breaker{}
		b.breakers[key] = br
	}
	return br
}
