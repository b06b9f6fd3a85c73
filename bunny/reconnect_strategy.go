package bunny

import (
	"math"
	"time"
)

// ReconnectDelayStrategy computes the wait before reconnect attempt number
// attempt, counted from 1.
type ReconnectDelayStrategy interface {
	ConnectWaitDuration(attempt int) time.Duration
}

// LinearDelayStrategy waits BaseDelay × attempt, capped at MaxDelay when set.
type LinearDelayStrategy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NewLinearDelayStrategy returns a new LinearDelayStrategy.
func NewLinearDelayStrategy(baseDelay time.Duration, maxDelay time.Duration) *LinearDelayStrategy {
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay < 0 {
		maxDelay = 0
	}
	return &LinearDelayStrategy{BaseDelay: baseDelay, MaxDelay: maxDelay}
}

// ConnectWaitDuration implements ReconnectDelayStrategy.
func (strategy *LinearDelayStrategy) ConnectWaitDuration(attempt int) time.Duration {
	if strategy == nil || attempt < 1 {
		return 0
	}
	delay := strategy.BaseDelay * time.Duration(attempt)
	if strategy.MaxDelay > 0 && delay > strategy.MaxDelay {
		delay = strategy.MaxDelay
	}
	return delay
}

// FixedDelayStrategy waits the same Delay before every attempt.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// NewFixedDelayStrategy returns a new FixedDelayStrategy.
func NewFixedDelayStrategy(delay time.Duration) *FixedDelayStrategy {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelayStrategy{Delay: delay}
}

// ConnectWaitDuration implements ReconnectDelayStrategy.
func (strategy *FixedDelayStrategy) ConnectWaitDuration(attempt int) time.Duration {
	if strategy == nil {
		return 0
	}
	return strategy.Delay
}

// ExponentialDelayStrategy waits BaseDelay × Factor^(attempt-1), capped at MaxDelay.
type ExponentialDelayStrategy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
}

// NewExponentialDelayStrategy returns a new ExponentialDelayStrategy.
func NewExponentialDelayStrategy(baseDelay time.Duration, maxDelay time.Duration, factor float64) *ExponentialDelayStrategy {
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if factor < 1 {
		factor = 2
	}
	return &ExponentialDelayStrategy{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		Factor:    factor,
	}
}

// ConnectWaitDuration implements ReconnectDelayStrategy.
func (strategy *ExponentialDelayStrategy) ConnectWaitDuration(attempt int) time.Duration {
	if strategy == nil || attempt < 1 {
		return 0
	}

	delayFloat := float64(strategy.BaseDelay) * math.Pow(strategy.Factor, float64(attempt-1))
	if delayFloat > float64(strategy.MaxDelay) {
		delayFloat = float64(strategy.MaxDelay)
	}
	if delayFloat < 0 {
		delayFloat = 0
	}
	return time.Duration(delayFloat)
}

func newReconnectDelayStrategy(config ReconnectConfig) ReconnectDelayStrategy {
	switch config.Strategy {
	case "fixed":
		return NewFixedDelayStrategy(config.BaseDelay)
	case "exponential":
		return NewExponentialDelayStrategy(config.BaseDelay, config.MaxDelay, config.Factor)
	default:
		return NewLinearDelayStrategy(config.BaseDelay, config.MaxDelay)
	}
}
