package remote

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("remote host circuit is open")

// circuit is the state of a guard.
type circuit int

const (
	closed circuit = iota
	halfOpen
	open
)

func (c circuit) String() string {
	switch c {
	case closed:
		return "closed"
	case halfOpen:
		return "half-open"
	case open:
		return "open"
	default:
		return "unknown"
	}
}

// guard stops dialing a host that keeps failing. After threshold
// consecutive failures it rejects dials for cooldown, then lets a single
// probe through; the probe's outcome closes or reopens the circuit.
type guard struct {
	threshold uint32
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(from, to circuit)

	mu       sync.Mutex
	state    circuit
	failures uint32
	expiry   time.Time
	probing  bool
}

func newGuard(threshold uint32, cooldown time.Duration) *guard {
	if threshold == 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &guard{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// do runs fn unless the circuit is open.
func (g *guard) do(fn func() error) error {
	if err := g.before(); err != nil {
		return err
	}

	var ok bool
	defer func() {
		g.after(ok)
	}()

	err := fn()
	ok = err == nil
	return err
}

func (g *guard) current() circuit {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentLocked()
}

func (g *guard) currentLocked() circuit {
	if g.state == open && !g.expiry.After(g.now()) {
		g.setState(halfOpen)
	}
	return g.state
}

func (g *guard) before() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.currentLocked() {
	case open:
		return ErrCircuitOpen
	case halfOpen:
		if g.probing {
			return ErrCircuitOpen
		}
		g.probing = true
	}
	return nil
}

func (g *guard) after(success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.state
	g.probing = false

	if success {
		g.failures = 0
		if state == halfOpen {
			g.setState(closed)
		}
		return
	}

	switch state {
	case closed:
		g.failures++
		if g.failures >= g.threshold {
			g.setState(open)
		}
	case halfOpen:
		g.setState(open)
	}
}

func (g *guard) setState(state circuit) {
	if g.state == state {
		return
	}
	prev := g.state
	g.state = state
	g.failures = 0
	if state == open {
		g.expiry = g.now().Add(g.cooldown)
	}
	if g.onChange != nil {
		g.onChange(prev, state)
	}
}
