// Package circuitbreaker fails calls fast while a dependency is down. After
// Trip consecutive outages the breaker opens; once the cool-down passes it
// lets a limited number of trial calls through and closes again after
// Recover of them succeed.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of the breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without running the call while the breaker is open or
// every half-open trial slot is taken.
var ErrOpen = errors.New("circuit breaker is open")

// Settings configures a Breaker. Zero fields take the defaults of New.
type Settings struct {
	Name string

	// Trip is the number of consecutive outages that opens the breaker.
	Trip int

	// Recover is the number of consecutive trial successes that closes it.
	Recover int

	CoolDown time.Duration

	// Trials bounds concurrent calls while half-open.
	Trials int

	// IsOutage decides which errors count against the dependency. Nil counts
	// every error. Errors that do not count are treated as successes: the
	// dependency answered.
	IsOutage func(error) bool

	OnStateChange func(name string, from, to State)
}

// Breaker is safe for concurrent use.
type Breaker struct {
	settings Settings
	now      func() time.Time

	mu        sync.Mutex
	state     State
	outages   int
	successes int
	inFlight  int
	openedAt  time.Time
}

// New creates a closed breaker.
func New(s Settings) *Breaker {
	if s.Trip <= 0 {
		s.Trip = 5
	}
	if s.Recover <= 0 {
		s.Recover = 1
	}
	if s.CoolDown <= 0 {
		s.CoolDown = 30 * time.Second
	}
	if s.Trials <= 0 {
		s.Trials = 1
	}
	return &Breaker{settings: s, now: time.Now}
}

// Academic guards the academic records service. Expired sessions must not
// be classified as outages: the invoker recovers from them.
func Academic(isOutage func(error) bool, onStateChange func(name string, from, to State)) *Breaker {
	return New(Settings{
		Name:          "academic-api",
		Trip:          3,
		Recover:       2,
		CoolDown:      time.Minute,
		Trials:        1,
		IsOutage:      isOutage,
		OnStateChange: onStateChange,
	})
}

// Database guards the benefit store. Constraint violations and missing rows
// are answers, so isOutage should only accept connection-level failures.
func Database(isOutage func(error) bool, onStateChange func(name string, from, to State)) *Breaker {
	return New(Settings{
		Name:          "database",
		Trip:          3,
		Recover:       1,
		CoolDown:      10 * time.Second,
		Trials:        1,
		IsOutage:      isOutage,
		OnStateChange: onStateChange,
	})
}

// Execute runs fn unless the breaker is open and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(trial, err)
	return err
}

// State returns the current state. An open breaker whose cool-down has
// passed still reports Open until the next call tries it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false, nil
	case Open:
		if b.now().Sub(b.openedAt) < b.settings.CoolDown {
			return false, ErrOpen
		}
		b.transition(HalfOpen)
	}

	if b.inFlight >= b.settings.Trials {
		return false, ErrOpen
	}
	b.inFlight++
	return true, nil
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial && b.inFlight > 0 {
		b.inFlight--
	}
	outage := err != nil && (b.settings.IsOutage == nil || b.settings.IsOutage(err))

	if !outage {
		b.outages = 0
		if b.state == HalfOpen && trial {
			b.successes++
			if b.successes >= b.settings.Recover {
				b.transition(Closed)
			}
		}
		return
	}

	b.successes = 0
	switch b.state {
	case Closed:
		b.outages++
		if b.outages >= b.settings.Trip {
			b.transition(Open)
		}
	case HalfOpen:
		b.transition(Open)
	}
}

// transition is called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.outages, b.successes = 0, 0
	if to == Open {
		b.openedAt = b.now()
	}
	if to != HalfOpen {
		b.inFlight = 0
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}
