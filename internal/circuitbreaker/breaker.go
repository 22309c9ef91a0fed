// Package circuitbreaker implements the circuit breaker pattern protecting
// the remote cache and other soft dependencies from cascading failures.
package circuitbreaker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, requests pass through
	StateOpen                  // Failure threshold exceeded, requests blocked
	StateHalfOpen              // Testing if the dependency recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned while the breaker short-circuits calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration.
type Config struct {
	// Name identifies this circuit breaker in logs and metrics
	Name string

	// FailureThreshold is the number of consecutive failures that trips
	// the breaker to open
	FailureThreshold uint32

	// RecoveryTimeout is how long the breaker stays open before allowing
	// a half-open probe
	RecoveryTimeout time.Duration

	// OnStateChange is called whenever the circuit state changes
	OnStateChange func(name string, from State, to State)
}

// DefaultConfig returns the platform defaults: trip after 10 consecutive
// failures, recover after 60 seconds.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 10,
		RecoveryTimeout:  60 * time.Second,
		OnStateChange: func(name string, from State, to State) {
			log.Printf("[BREAKER:%s] state change: %s -> %s", name, from, to)
		},
	}
}

// Counts holds request/response counts for the current generation.
type Counts struct {
	Requests            uint32
	TotalSuccesses      uint32
	TotalFailures       uint32
	ConsecutiveFailures uint32
}

func (c *Counts) clear() {
	*c = Counts{}
}

// Breaker is a three-state circuit breaker: closed -> open on N consecutive
// failures -> half-open after the recovery timeout -> closed on a successful
// probe, reopened on a failed one.
type Breaker struct {
	cfg Config

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	openedAt   time.Time
}

// New creates a circuit breaker. Zero-valued config fields get defaults.
func New(cfg Config) *Breaker {
	def := DefaultConfig(cfg.Name)
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout == 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.cfg.Name }

// State returns the current state, advancing open -> half-open when the
// recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	return state
}

// Counts returns a copy of the current counts.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Execute runs fn if the breaker allows it, recording the outcome.
// While open it returns ErrCircuitOpen without calling fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	generation, err := b.beforeRequest()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.afterRequest(generation, err == nil)
	return err
}

func (b *Breaker) beforeRequest() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if state == StateOpen {
		return generation, ErrCircuitOpen
	}
	// Half-open admits a single probe per generation.
	if state == StateHalfOpen && b.counts.Requests > 0 {
		return generation, ErrCircuitOpen
	}

	b.counts.Requests++
	return generation, nil
}

func (b *Breaker) afterRequest(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, currentGeneration := b.currentState(now)
	if generation != currentGeneration {
		// Stale result from a previous generation
		return
	}

	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveFailures = 0
	case StateHalfOpen:
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		if b.counts.ConsecutiveFailures >= b.cfg.FailureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
		b.setState(StateHalfOpen, now)
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	if state == StateOpen {
		b.openedAt = now
	}

	b.generation++
	b.counts.clear()

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, prev, state)
	}
}

// Manager holds one breaker per named dependency.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewManager creates a manager whose breakers inherit defaultCfg.
func NewManager(defaultCfg Config) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		cfg:      defaultCfg,
	}
}

// Get returns the breaker for a dependency, creating it on first use.
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[name]; ok {
		return b
	}
	cfg := m.cfg
	cfg.Name = name
	b = New(cfg)
	m.breakers[name] = b
	return b
}

// States reports the state of every managed breaker (for health endpoints).
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.State().String()
	}
	return out
}
