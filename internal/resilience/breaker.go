package resilience

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudbill/costsync/pkg/providers/cloudproviders"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before trial calls are
	// permitted.
	ResetTimeout time.Duration
	// HalfOpenMax caps concurrent trial calls while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the standard breaker tuning: open after 5
// consecutive failures, 60s reset timeout, 3 trial calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		HalfOpenMax:      3,
	}
}

// Breaker is a circuit breaker for one (tenant, provider) upstream. Safe for
// concurrent use by all account workers of a tenant.
type Breaker struct {
	key string
	cfg BreakerConfig
	log zerolog.Logger
	now func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trials   int
}

// NewBreaker returns a closed breaker for key.
func NewBreaker(key string, cfg BreakerConfig, log zerolog.Logger) *Breaker {
	return &Breaker{key: key, cfg: cfg, log: log, now: time.Now}
}

// State returns the current state, applying the open->half-open transition
// if the reset timeout has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Allow reports whether a call may proceed. When the circuit is open it
// returns an UpstreamUnavailable error without touching the upstream. While
// half-open, at most HalfOpenMax trial calls are admitted.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()

	switch b.state {
	case StateOpen:
		return &cloudproviders.APIError{
			Provider: b.key,
			Kind:     cloudproviders.ErrorKindUpstreamUnavailable,
			Message:  "circuit breaker open",
		}
	case StateHalfOpen:
		if b.trials >= b.cfg.HalfOpenMax {
			return &cloudproviders.APIError{
				Provider: b.key,
				Kind:     cloudproviders.ErrorKindUpstreamUnavailable,
				Message:  "circuit breaker half-open, trial limit reached",
			}
		}
		b.trials++
	}
	return nil
}

// RecordSuccess marks a completed call as successful. A half-open trial
// success closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.transition(StateClosed, nil)
	}
	b.failures = 0
}

// RecordFailure marks a completed call as failed. Reaching the consecutive
// failure threshold opens the circuit; a half-open trial failure reopens it
// and restarts the reset timeout.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.openedAt = b.now()
		b.transition(StateOpen, err)
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.transition(StateOpen, err)
		}
	}
}

// maybeHalfOpen moves an expired open circuit to half-open. Caller holds mu.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.trials = 0
		b.transition(StateHalfOpen, nil)
	}
}

// transition logs every state change with the triggering error. Caller
// holds mu.
func (b *Breaker) transition(to BreakerState, cause error) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	evt := b.log.Info().
		Str("breaker", b.key).
		Str("from", from.String()).
		Str("to", to.String())
	if cause != nil {
		evt = evt.Err(cause)
	}
	evt.Msg("circuit breaker state change")
}

// BreakerSet owns the per-(tenant, provider) breakers of one orchestrator.
// It is injected state, not a process-wide singleton, so tests and parallel
// syncs get independent circuits.
type BreakerSet struct {
	cfg BreakerConfig
	log zerolog.Logger

	mu sync.Mutex
	m  map[string]*Breaker
}

// NewBreakerSet returns an empty set using cfg for every new breaker.
func NewBreakerSet(cfg BreakerConfig, log zerolog.Logger) *BreakerSet {
	return &BreakerSet{cfg: cfg, log: log, m: make(map[string]*Breaker)}
}

// For returns the breaker for (tenant, provider), creating it on first use.
func (s *BreakerSet) For(tenant, provider string) *Breaker {
	key := tenant + "/" + provider
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[key]
	if !ok {
		b = NewBreaker(key, s.cfg, s.log)
		s.m[key] = b
	}
	return b
}
