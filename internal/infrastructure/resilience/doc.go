/*
Package resilience provides the failure handling used by trace shipping.

# Overview

Trace output is best-effort: a collector outage must never block or crash an
instrumented process. Two pieces cooperate to make that hold:

  - Backoff: exponential retry schedule (initial delay, multiplier, cap,
    attempt budget) with permanent-error short circuit.
  - Breaker: three-state circuit breaker so that a transport stops dialing a
    collector that keeps failing and fails fast until the open timeout passes.

# Usage

	breaker := resilience.NewBreaker("collector", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	err := backoff.Retry(ctx, clk, func(attempt int) error {
		return breaker.Do(ctx, transport.Send)
	}, nil)

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open
*/
package resilience
