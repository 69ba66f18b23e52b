package pacer

import "time"

// Default is the default calculator: it decays the sleep time
// exponentially towards minSleep on success and attacks it exponentially
// towards maxSleep on a retry.
type Default struct {
	minSleep       time.Duration
	maxSleep       time.Duration
	decayConstant  uint
	attackConstant uint
}

// DefaultOption configures a Default calculator.
type DefaultOption func(*Default)

// MinSleep sets the minimum sleep time.
func MinSleep(d time.Duration) DefaultOption { return func(c *Default) { c.minSleep = d } }

// MaxSleep sets the maximum sleep time.
func MaxSleep(d time.Duration) DefaultOption { return func(c *Default) { c.maxSleep = d } }

// DecayConstant sets the decay shift: on success, sleep time moves
// towards minSleep by a factor of 1/2^DecayConstant per call.
func DecayConstant(n uint) DefaultOption { return func(c *Default) { c.decayConstant = n } }

// AttackConstant sets the attack shift: on retry, sleep time moves
// towards maxSleep by a factor of 1/(2^AttackConstant-1) per call.
func AttackConstant(n uint) DefaultOption { return func(c *Default) { c.attackConstant = n } }

// NewDefault makes a Default calculator with rclone-style defaults: 10ms
// min, 2s max, decay 2, attack 1.
func NewDefault(options ...DefaultOption) *Default {
	c := &Default{
		minSleep:       10 * time.Millisecond,
		maxSleep:       2 * time.Second,
		decayConstant:  2,
		attackConstant: 1,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Calculate implements Calculator.
func (c *Default) Calculate(state State) time.Duration {
	var sleepTime time.Duration
	if state.ConsecutiveRetries == 0 {
		sleepTime = c.decay(state.SleepTime)
	} else {
		sleepTime = c.attack(state.SleepTime)
	}
	if sleepTime < c.minSleep {
		sleepTime = c.minSleep
	}
	if sleepTime > c.maxSleep {
		sleepTime = c.maxSleep
	}
	return sleepTime
}

func (c *Default) decay(old time.Duration) time.Duration {
	if c.decayConstant == 0 {
		return 0
	}
	return old - old>>c.decayConstant
}

func (c *Default) attack(old time.Duration) time.Duration {
	if c.attackConstant == 0 {
		return c.maxSleep
	}
	divisor := time.Duration((uint64(1) << c.attackConstant) - 1)
	return old + old/divisor
}
