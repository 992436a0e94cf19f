package breaker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute when the circuit is open and no
// fallback was provided.
var ErrCircuitOpen = errors.New("circuit open")

// State of a single service circuit.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Settings tune a Breaker. Zero values fall back to defaults.
type Settings struct {
	FailureThreshold int           // consecutive failures before opening (default 10)
	RecoveryTimeout  time.Duration // open -> half-open delay (default 30s)
	SuccessToClose   int           // half-open successes before closing (default 5)
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 10
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = 30 * time.Second
	}
	if s.SuccessToClose <= 0 {
		s.SuccessToClose = 5
	}
	return s
}

// Breaker tracks failures per named service and short-circuits calls while a
// service is considered down.
type Breaker struct {
	settings Settings
	mu       sync.Mutex
	circuits map[string]*circuit
	now      func() time.Time
}

type circuit struct {
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

// New creates a Breaker shared by all callers of the named services.
func New(settings Settings) *Breaker {
	return &Breaker{
		settings: settings.withDefaults(),
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

// Op is a guarded operation.
type Op func(ctx context.Context) error

// Execute runs op for the named service unless its circuit is open. When the
// circuit is open and fallback is non-nil, fallback runs instead; otherwise
// ErrCircuitOpen is returned without invoking op.
func (b *Breaker) Execute(ctx context.Context, service string, op Op, fallback Op) error {
	if !b.allow(service) {
		if fallback != nil {
			return fallback(ctx)
		}
		return ErrCircuitOpen
	}

	err := op(ctx)
	if err != nil {
		b.recordFailure(service)
		return err
	}
	b.recordSuccess(service)
	return nil
}

// State reports the current state for a service.
func (b *Breaker) State(service string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[service]
	if !ok {
		return Closed
	}
	// Reflect the pending open -> half-open transition
	if c.state == Open && b.now().Sub(c.lastFailure) >= b.settings.RecoveryTimeout {
		return HalfOpen
	}
	return c.state
}

func (b *Breaker) allow(service string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(service)
	switch c.state {
	case Closed:
		return true
	case HalfOpen:
		return true
	default: // Open
		if b.now().Sub(c.lastFailure) >= b.settings.RecoveryTimeout {
			c.state = HalfOpen
			c.successes = 0
			log.Printf("[BREAKER] %s: open -> half-open (recovery timeout elapsed)", service)
			return true
		}
		return false
	}
}

func (b *Breaker) recordFailure(service string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(service)
	c.failures++
	c.successes = 0
	c.lastFailure = b.now()

	if c.state == HalfOpen || c.failures >= b.settings.FailureThreshold {
		if c.state != Open {
			log.Printf("[BREAKER] %s: %s -> open (failures=%d)", service, c.state, c.failures)
		}
		c.state = Open
	}
}

func (b *Breaker) recordSuccess(service string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(service)
	switch c.state {
	case HalfOpen:
		c.successes++
		if c.successes >= b.settings.SuccessToClose {
			log.Printf("[BREAKER] %s: half-open -> closed", service)
			c.state = Closed
			c.failures = 0
			c.successes = 0
		}
	case Closed:
		c.failures = 0
	}
}

func (b *Breaker) circuit(service string) *circuit {
	c, ok := b.circuits[service]
	if !ok {
		c = &circuit{state: Closed}
		b.circuits[service] = c
	}
	return c
}
