// Package pacer implements a generic pacing mechanism to limit the rate of
// retries and concurrent connections to a remote service that doesn't like
// too many connections or calls per second. The storage node uses it to
// back off reconnect attempts to peer storage nodes and to trackers
// (spec.md §4.F "on failure back off heart_beat_interval", §4.G).
package pacer

import (
	"sync"
	"time"
)

// State is the public state of the pacer as seen by a Calculator.
type State struct {
	SleepTime          time.Duration // current base sleep time
	ConsecutiveRetries int           // number of consecutive retries
}

// Calculator converts the current State into the sleep duration to use
// before the next call.
type Calculator interface {
	Calculate(state State) time.Duration
}

// Paced is the signature a retried function implements: it returns
// whether the call should be retried and the error (if any) from the call.
type Paced func() (bool, error)

// Pacer paces calls to a number of parallel streams to a given target,
// retrying failed calls with a calculator-driven backoff.
type Pacer struct {
	mu             sync.Mutex
	pacer          chan struct{}
	connTokens     chan struct{}
	retries        int
	maxConnections int
	calculator     Calculator
	state          State
}

// Option configures a Pacer at construction time.
type Option func(*Pacer)

// RetriesOption sets the max number of tries for Call.
func RetriesOption(retries int) Option {
	return func(p *Pacer) { p.retries = retries }
}

// MaxConnectionsOption sets the maximum number of concurrent connections.
// 0 means unlimited.
func MaxConnectionsOption(n int) Option {
	return func(p *Pacer) { p.SetMaxConnections(n) }
}

// CalculatorOption sets the pacing calculator.
func CalculatorOption(c Calculator) Option {
	return func(p *Pacer) { p.calculator = c }
}

// New makes a new initialized Pacer with default settings (3 retries, a
// Default calculator, no connection limit).
func New(options ...Option) *Pacer {
	p := &Pacer{
		pacer:      make(chan struct{}, 1),
		retries:    3,
		calculator: NewDefault(),
	}
	for _, o := range options {
		o(p)
	}
	if d, ok := p.calculator.(*Default); ok {
		p.state.SleepTime = d.minSleep
	}
	p.pacer <- struct{}{}
	return p
}

// SetMaxConnections sets the maximum number of concurrent connections.
// Setting it to 0 disables the connection limit.
func (p *Pacer) SetMaxConnections(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxConnections = n
	if n <= 0 {
		p.connTokens = nil
		return
	}
	p.connTokens = make(chan struct{}, n)
	for i := 0; i < n; i++ {
		p.connTokens <- struct{}{}
	}
}

// SetRetries sets the max number of tries for Call.
func (p *Pacer) SetRetries(retries int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = retries
}

// beginCall waits for a pace token and (if connection limiting is
// enabled) a connection token, blocking until both are available.
func (p *Pacer) beginCall() {
	<-p.pacer

	var connToken struct{}
	if p.connTokens != nil {
		connToken = <-p.connTokens
	}
	_ = connToken

	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	sleepTime := p.calculator.Calculate(state)

	go func() {
		time.Sleep(sleepTime)
		p.mu.Lock()
		p.state.SleepTime = sleepTime
		p.mu.Unlock()
		p.pacer <- struct{}{}
	}()
}

// endCall releases the connection token (if any) and updates retry state.
func (p *Pacer) endCall(retry bool, err error) {
	if p.connTokens != nil {
		p.connTokens <- struct{}{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if retry {
		p.state.ConsecutiveRetries++
	} else {
		p.state.ConsecutiveRetries = 0
	}
}

// call runs fn up to maxTries times, pacing each attempt.
func (p *Pacer) call(fn Paced, maxTries int) (err error) {
	var retry bool
	for try := 1; try <= maxTries; try++ {
		p.beginCall()
		retry, err = fn()
		p.endCall(retry, err)
		if !retry {
			return err
		}
	}
	return err
}

// Call paces fn, retrying up to the configured retry count while fn
// returns retry=true.
func (p *Pacer) Call(fn Paced) error {
	p.mu.Lock()
	retries := p.retries
	p.mu.Unlock()
	return p.call(fn, retries)
}

// CallNoRetry paces fn once, with no retries regardless of fn's retry
// return value.
func (p *Pacer) CallNoRetry(fn Paced) error {
	return p.call(fn, 1)
}
