/*
Package resilience provides a circuit breaker for graceful degradation.

# Overview

This package implements the circuit breaker pattern around flaky call sites.
In trayfold it guards the bus surface the scanner enumerates through: when a
misbehaving tray application makes every scan fail, the breaker stops the
daemon from hammering the bus and lets callers fall back to cached results.

# Features

- Three-state circuit breaker (Closed, Open, Half-Open)
- Configurable failure thresholds and cooldowns
- Single-probe half-open state
- State change callbacks for logging
- Thread-safe operations

# Usage

	// Create a circuit breaker
	breaker := resilience.New("tray-scan", resilience.Settings{
		Interval: 60 * time.Second,
		Cooldown: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("breaker state changed")
		},
	})

	// Execute call through breaker
	result, err := breaker.Execute(func() (interface{}, error) {
		return scanner.Enumerate(ctx)
	})

# States

- Closed: Normal operation, calls pass through
- Open: Call site unavailable, calls fail immediately with ErrCircuitOpen
- Half-Open: Testing recovery, a single probe allowed

# Pattern

	Closed --[failures]-> Open --[cooldown]-> Half-Open --[success]-> Closed
	                                            |
	                                       [failure]
	                                            |
	                                            v
	                                          Open
*/
package resilience
