package pacer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaults(t *testing.T) {
	p := New(RetriesOption(7), MaxConnectionsOption(9))
	d, ok := p.calculator.(*Default)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, d.minSleep)
	assert.Equal(t, 2*time.Second, d.maxSleep)
	assert.Equal(t, d.minSleep, p.state.SleepTime)
	assert.Equal(t, 7, p.retries)
	assert.Equal(t, 9, cap(p.connTokens))
	assert.Equal(t, 0, p.state.ConsecutiveRetries)
}

func TestSetMaxConnectionsToZeroDisables(t *testing.T) {
	p := New()
	p.SetMaxConnections(5)
	assert.Equal(t, 5, cap(p.connTokens))
	p.SetMaxConnections(0)
	assert.Nil(t, p.connTokens)
}

func TestDecayTowardsMinSleep(t *testing.T) {
	c := NewDefault(MinSleep(1*time.Microsecond), MaxSleep(1*time.Second))
	c.decayConstant = 1
	got := c.Calculate(State{SleepTime: 8 * time.Millisecond})
	assert.Equal(t, 4*time.Millisecond, got)

	c.decayConstant = 0
	got = c.Calculate(State{SleepTime: 1 * time.Millisecond})
	assert.Equal(t, 1*time.Microsecond, got) // clamped to minSleep
}

func TestAttackTowardsMaxSleep(t *testing.T) {
	c := NewDefault(MinSleep(1*time.Microsecond), MaxSleep(1*time.Second))
	c.attackConstant = 1
	got := c.Calculate(State{SleepTime: 1 * time.Millisecond, ConsecutiveRetries: 1})
	assert.Equal(t, 2*time.Millisecond, got)

	c.attackConstant = 0
	got = c.Calculate(State{SleepTime: 1 * time.Millisecond, ConsecutiveRetries: 1})
	assert.Equal(t, 1*time.Second, got) // jumps straight to maxSleep
}

var errBoom = errors.New("boom")

func TestCallRetriesUntilNoRetry(t *testing.T) {
	p := New(RetriesOption(5), CalculatorOption(NewDefault(MinSleep(time.Microsecond), MaxSleep(time.Millisecond))))
	calls := 0
	err := p.Call(func() (bool, error) {
		calls++
		if calls < 3 {
			return true, errBoom
		}
		return false, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestCallNoRetryCallsOnce(t *testing.T) {
	p := New(CalculatorOption(NewDefault(MinSleep(time.Microsecond), MaxSleep(time.Millisecond))))
	calls := 0
	err := p.CallNoRetry(func() (bool, error) {
		calls++
		return true, errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestCallExhaustsRetries(t *testing.T) {
	p := New(RetriesOption(4), CalculatorOption(NewDefault(MinSleep(time.Microsecond), MaxSleep(time.Millisecond))))
	calls := 0
	err := p.Call(func() (bool, error) {
		calls++
		return true, errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 4, calls)
}
