package pipeline

import (
	"context"
	"time"
)

// ProbeState classifies one probe invocation.
type ProbeState int

const (
	// ProbeSuccess means the condition holds; stop immediately.
	ProbeSuccess ProbeState = iota
	// ProbeTransient means the condition does not hold yet but may after
	// propagation; retry until the budget runs out.
	ProbeTransient
	// ProbeTerminal means retrying cannot help; stop immediately.
	ProbeTerminal
)

// ProbeOutcome is the result of a single probe invocation.
type ProbeOutcome struct {
	State  ProbeState
	Reason string
}

func Healthy() ProbeOutcome { return ProbeOutcome{State: ProbeSuccess} }

func Retry(reason string) ProbeOutcome { return ProbeOutcome{State: ProbeTransient, Reason: reason} }

func GiveUp(reason string) ProbeOutcome { return ProbeOutcome{State: ProbeTerminal, Reason: reason} }

// Probe checks one external condition. It must be safe to invoke repeatedly.
type Probe func(ctx context.Context) ProbeOutcome

// RetryPolicy bounds a verification loop. Total wall-clock time for a probe
// that never succeeds is roughly MaxAttempts × Delay; size both to the
// external system's propagation latency (DNS takes minutes, CloudFront
// invalidations up to ten).
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Verify invokes probe until it succeeds, fails terminally, the attempt
// budget is exhausted, or ctx is done. It returns whether the condition was
// reached and the last observed reason when it was not.
func Verify(ctx context.Context, probe Probe, policy RetryPolicy) (bool, string) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastReason string
	for attempt := 1; attempt <= attempts; attempt++ {
		outcome := probe(ctx)
		switch outcome.State {
		case ProbeSuccess:
			return true, ""
		case ProbeTerminal:
			return false, outcome.Reason
		}
		lastReason = outcome.Reason

		if attempt == attempts {
			break
		}
		select {
		case <-time.After(policy.Delay):
		case <-ctx.Done():
			return false, lastReason
		}
	}

	return false, lastReason
}
