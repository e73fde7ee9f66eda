/*
Package resilience provides the circuit breakers guarding shared, fallible
resources such as storage connection acquisition and upstream services.

# Overview

A Registry owns one Breaker per resource name. Breakers for the built-in
resource families and for every name given settings exist from construction. Callers never touch breaker
state directly; they go through Registry.Call (or Guard / Do), which either
runs the operation and records its outcome or rejects it immediately with an
error matching ErrOpen.

# States

  - Closed: calls run; a success resets the failure count, a failure increments it
  - Open: calls are rejected without running; entered when the failure count
    reaches FailureThreshold
  - Half-Open: entered by the first call after ResetTimeout has elapsed since
    opening; exactly one trial call runs, others are rejected until it finishes

Reading a breaker (State, Status, Registry.Snapshot) never changes it. An open
breaker past its cooldown reads as half-open until a call moves it there.

A caller that gives up (its context is cancelled and the operation returns
context.Canceled) is not recorded as a success or a failure. Deadlines are
failures.

# Pattern

	Closed --[threshold failures]-> Open --[reset timeout]-> Half-Open --[trial ok]-> Closed
	                                  ^                          |
	                                  +-------[trial failed]-----+

# Usage

	breakers := resilience.NewRegistry(
		resilience.WithSettings(resilience.Database, resilience.Settings{
			FailureThreshold: 5,
			ResetTimeout:     time.Minute,
		}),
		resilience.WithObserver(func(name string, from, to resilience.State, failures int) {
			logger.Warn("breaker transition", zap.String("breaker", name))
		}),
	)

	conn, err := resilience.Do(ctx, breakers, resilience.Database, pool.Acquire)

Every transition is reported to the observers with the breaker name, the old
and new state and the failure count. Observers are the only integration point
with logging and metrics. They run under the breaker lock and must not block.
*/
package resilience
