// Package backoff computes the delay between two attempts of a retried request.
package backoff

import (
	"math/rand"
	"time"
)

// Params carries the knobs shared by every strategy.
type Params struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
	// Rand returns a value in [0, 1). Nil means math/rand.
	Rand func() float64
}

func (p Params) random() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}

// Strategy turns a zero-based retry index into a delay.
type Strategy interface {
	Delay(retry int, p Params) time.Duration
}

// Exponential grows the delay as Base*Multiplier^retry, capped at Max, then adds
// up to Jitter*delay of random spread without crossing Max.
type Exponential struct{}

// Delay implements Strategy.
func (Exponential) Delay(retry int, p Params) time.Duration {
	if retry < 0 {
		retry = 0
	}
	if retry > 30 {
		retry = 30
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	delay := time.Duration(float64(p.Base) * Pow(multiplier, retry))
	if delay < 0 || delay > p.Max {
		delay = p.Max
	}

	jitter := clampJitter(p.Jitter)
	if jitter > 0 {
		spread := time.Duration(float64(delay) * jitter * p.random())
		if delay+spread > p.Max {
			return p.Max
		}
		delay += spread
	}
	return delay
}

// Decorrelated picks a delay uniformly in [Base, min(Max, Base*3^retry)].
// See https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
type Decorrelated struct{}

// Delay implements Strategy.
func (Decorrelated) Delay(retry int, p Params) time.Duration {
	if retry <= 0 {
		return p.Base
	}
	if retry > 10 {
		retry = 10
	}

	base := float64(p.Base)
	upper := base * Pow(3.0, retry)
	if upper > float64(p.Max) || upper < 0 {
		upper = float64(p.Max)
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + p.random()*(upper-base))
	if delay < 0 || delay > p.Max {
		delay = p.Max
	}
	return delay
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// Pow computes base^exponent for a non-negative integer exponent.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
