/*
Package breaker implements the per-resource circuit breakers that stop
the executor from hammering a persistently failing recovery path.

Breakers are keyed by (error_type, resource_id). Each key moves through
the classic three states:

	            failure streak ≥ threshold
	  CLOSED ────────────────────────────────► OPEN
	    ▲                                        │
	    │ probe success          open timeout    │
	    │                        elapsed         │
	    └──────── HALF_OPEN ◄────────────────────┘
	                  │
	                  │ probe failure
	                  └─────────────────────────► OPEN (window restarts)

In HALF_OPEN exactly one probe request is admitted; concurrent requests
for the same key are rejected until the probe's outcome is recorded.
Any recorded success closes the breaker and clears the failure streak.

Breakers are created lazily on first reference and survive until an
operator reset. The fabric map and each breaker have separate locks, so
a decision on one key never blocks another, and the recovery action
itself runs outside any lock.
*/
package breaker
