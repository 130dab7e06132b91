// Package verify polls platform state after a recovery action until the
// resource reaches a known-good terminal state or the budget runs out.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/pipeheal/pipeheal/pkg/log"
	"github.com/pipeheal/pipeheal/pkg/platform"
)

// ResourceKind selects the health policy applied while polling
type ResourceKind string

const (
	KindCluster     ResourceKind = "cluster"
	KindJobRun      ResourceKind = "job_run"
	KindPipelineRun ResourceKind = "pipeline_run"
)

// Resource identifies what to poll and what counts as healthy
type Resource struct {
	Kind ResourceKind
	ID   string

	// WantWorkers, when positive, requires the cluster to reach at
	// least this many workers while RUNNING (used after a scale-up)
	WantWorkers int
}

// Result is the outcome of one verification
type Result struct {
	Healthy  bool
	Reason   string
	TimedOut bool
	Elapsed  time.Duration
}

// verdict is the per-poll policy decision
type verdict int

const (
	verdictKeepPolling verdict = iota
	verdictHealthy
	verdictUnhealthy
)

// Verifier polls Get*State until a terminal verdict
type Verifier struct {
	// PollInterval is the delay between state fetches
	PollInterval time.Duration
}

// New creates a verifier with the default poll interval
func New() *Verifier {
	return &Verifier{PollInterval: 10 * time.Second}
}

// Wait polls the adapter until the resource is healthy, terminally
// unhealthy, or the timeout elapses. Fetch errors are tolerated and
// polling continues; only the budget ends the loop.
func (v *Verifier) Wait(ctx context.Context, adapter platform.Adapter, res Resource, timeout time.Duration) Result {
	logger := log.WithComponent("verify")
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(v.PollInterval)
	defer ticker.Stop()

	for {
		verdict, reason := v.check(ctx, adapter, res)
		switch verdict {
		case verdictHealthy:
			logger.Info().
				Str("kind", string(res.Kind)).
				Str("resource_id", res.ID).
				Dur("elapsed", time.Since(start)).
				Msg("resource healthy")
			return Result{Healthy: true, Reason: reason, Elapsed: time.Since(start)}
		case verdictUnhealthy:
			logger.Warn().
				Str("kind", string(res.Kind)).
				Str("resource_id", res.ID).
				Str("reason", reason).
				Msg("resource unhealthy")
			return Result{Healthy: false, Reason: reason, Elapsed: time.Since(start)}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return Result{
				Healthy:  false,
				Reason:   "timeout",
				TimedOut: true,
				Elapsed:  time.Since(start),
			}
		}
	}
}

func (v *Verifier) check(ctx context.Context, adapter platform.Adapter, res Resource) (verdict, string) {
	switch res.Kind {
	case KindCluster:
		state, err := adapter.GetClusterState(ctx, res.ID)
		if err != nil {
			return verdictKeepPolling, fmt.Sprintf("state fetch failed: %v", err)
		}
		return evaluateCluster(state.State, state.TerminationReason, state.WorkerCount, res.WantWorkers)

	case KindJobRun:
		state, err := adapter.GetRunState(ctx, res.ID)
		if err != nil {
			return verdictKeepPolling, fmt.Sprintf("state fetch failed: %v", err)
		}
		return evaluateRun(state.LifeCycleState, state.ResultState, state.ErrorMessage)

	case KindPipelineRun:
		state, err := adapter.GetPipelineRunState(ctx, res.ID)
		if err != nil {
			return verdictKeepPolling, fmt.Sprintf("state fetch failed: %v", err)
		}
		return evaluatePipeline(state.Status, state.ErrorMessage)

	default:
		return verdictUnhealthy, fmt.Sprintf("unknown resource kind %q", res.Kind)
	}
}

func evaluateCluster(state, terminationReason string, workers, wantWorkers int) (verdict, string) {
	switch state {
	case "RUNNING":
		if terminationReason != "" {
			return verdictUnhealthy, fmt.Sprintf("termination reason: %s", terminationReason)
		}
		if wantWorkers > 0 && workers < wantWorkers {
			return verdictKeepPolling, fmt.Sprintf("workers %d/%d", workers, wantWorkers)
		}
		return verdictHealthy, "healthy"
	case "ERROR":
		return verdictUnhealthy, "cluster in ERROR state"
	case "TERMINATED", "TERMINATING":
		reason := terminationReason
		if reason == "" {
			reason = state
		}
		return verdictUnhealthy, fmt.Sprintf("cluster terminated: %s", reason)
	default:
		// PENDING, RESTARTING, RESIZING
		return verdictKeepPolling, state
	}
}

func evaluateRun(lifeCycle, result, errMsg string) (verdict, string) {
	switch lifeCycle {
	case "TERMINATED":
		if result == "SUCCESS" {
			return verdictHealthy, "healthy"
		}
		switch result {
		case "FAILED", "TIMEDOUT", "CANCELED":
			if errMsg != "" {
				return verdictUnhealthy, fmt.Sprintf("run %s: %s", result, errMsg)
			}
			return verdictUnhealthy, fmt.Sprintf("run %s", result)
		default:
			return verdictKeepPolling, lifeCycle
		}
	case "INTERNAL_ERROR", "SKIPPED":
		return verdictUnhealthy, fmt.Sprintf("run %s", lifeCycle)
	default:
		// PENDING, RUNNING, TERMINATING
		return verdictKeepPolling, lifeCycle
	}
}

func evaluatePipeline(status, errMsg string) (verdict, string) {
	switch status {
	case "Succeeded":
		return verdictHealthy, "healthy"
	case "Failed", "Cancelled":
		if errMsg != "" {
			return verdictUnhealthy, fmt.Sprintf("pipeline %s: %s", status, errMsg)
		}
		return verdictUnhealthy, fmt.Sprintf("pipeline %s", status)
	default:
		// Queued, InProgress
		return verdictKeepPolling, status
	}
}
