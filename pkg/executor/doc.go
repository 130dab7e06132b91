/*
Package executor orchestrates recovery playbooks for classified
data-pipeline failures.

Given a RecoveryRequest carrying an error type and resource metadata,
the executor looks up the playbook, gates the attempt on the circuit
breaker, snapshots mutable state when asked to, drives the primary
action through a serial retry loop with exponential backoff, verifies
health after a successful action when the playbook and configuration
enable it, falls back once when the primary
exhausts its budget, and chains to a follow-up playbook after success.

# Execution Flow

	┌───────────────────── EXECUTE(request) ─────────────────────┐
	│                                                             │
	│  Registry.Get(error_type) ── absent ──► failure result      │
	│          │                                                  │
	│  feature flags / adapter wiring ── off ──► failure result   │
	│          │                                                  │
	│  Breaker.Allow(error_type:resource) ── open ──► rejected    │
	│          │                                                  │
	│  Snapshot.Capture (if snapshot_before)                      │
	│          │                                                  │
	│  ┌──── attempt i = 1 … max_retries+1 ────┐                  │
	│  │  do_action (bounded by timeout)        │                 │
	│  │  health check (part of the attempt)    │                 │
	│  │  backoff: base * 2^(i-1), capped       │                 │
	│  └────────────┬───────────────┬───────────┘                 │
	│          success          exhausted                         │
	│              │                │                             │
	│     RecordSuccess       fallback action (once)              │
	│              │           │           │                      │
	│     chained playbook   success    failure                   │
	│     (depth ≤ 3,          │           │                      │
	│      cycle-guarded)  RecordSuccess  RecordFailure           │
	│              │           │        + rollback (best effort)  │
	│              ▼           ▼           ▼                      │
	│                 structured ExecutionResult                  │
	└─────────────────────────────────────────────────────────────┘

# Contracts

Every expected failure mode becomes an ExecutionResult with
success=false; the executor only returns errors from its constructor
for wiring faults. A rejected breaker call never invokes the adapter
and never records an outcome. Exactly one breaker outcome is recorded
per admitted execution. Health verification is part of the attempt: a
failed or timed-out health check invalidates the attempt and consumes
retry budget.

Concurrent executions are independent; they serialize only at the
breaker decision point for a shared key. The action itself never holds
a breaker lock.
*/
package executor
