// Package platformtest provides a scriptable in-memory platform adapter
// for orchestrator and verifier tests.
package platformtest

import (
	"context"
	"sync"

	"github.com/pipeheal/pipeheal/pkg/platform"
	"github.com/pipeheal/pipeheal/pkg/types"
)

// Fake is a platform adapter whose behavior is driven by function
// fields. Unset fields succeed with healthy defaults (a new run id, a
// RUNNING cluster, a successful job or pipeline run), or zero values
// where there is nothing to report. All invocations are
// counted and the call order is recorded.
type Fake struct {
	Name types.Platform

	RetryJobFn            func(jobID string) (string, error)
	RestartClusterFn      func(clusterID string) error
	ScaleClusterFn        func(clusterID string, deltaPercent, maxWorkers int) (int, error)
	LibraryFallbackFn     func(clusterID, libraryName string, candidates []string) (string, error)
	RerunPipelineFn       func(pipelineName, factoryName, resourceGroup string) (string, error)
	RollbackConfigFn      func(snapshot types.Snapshot) error
	GetClusterStateFn     func(clusterID string) (types.ClusterState, error)
	GetRunStateFn         func(runID string) (types.RunState, error)
	GetPipelineRunStateFn func(runID string) (types.PipelineRunState, error)

	mu    sync.Mutex
	calls []string
}

// NewFake creates a fake adapter for the given platform name
func NewFake(name types.Platform) *Fake {
	return &Fake{Name: name}
}

// Calls returns the ordered list of operations invoked so far
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many times the named operation was invoked
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *Fake) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
}

func (f *Fake) Platform() types.Platform {
	return f.Name
}

func (f *Fake) RetryJob(ctx context.Context, jobID string) (string, error) {
	f.record("retry_job")
	if f.RetryJobFn != nil {
		return f.RetryJobFn(jobID)
	}
	return "run-1", nil
}

func (f *Fake) RestartCluster(ctx context.Context, clusterID string) error {
	f.record("restart_cluster")
	if f.RestartClusterFn != nil {
		return f.RestartClusterFn(clusterID)
	}
	return nil
}

func (f *Fake) ScaleCluster(ctx context.Context, clusterID string, deltaPercent, maxWorkers int) (int, error) {
	f.record("scale_cluster")
	if f.ScaleClusterFn != nil {
		return f.ScaleClusterFn(clusterID, deltaPercent, maxWorkers)
	}
	return 0, nil
}

func (f *Fake) LibraryFallback(ctx context.Context, clusterID, libraryName string, candidates []string) (string, error) {
	f.record("library_fallback")
	if f.LibraryFallbackFn != nil {
		return f.LibraryFallbackFn(clusterID, libraryName, candidates)
	}
	if len(candidates) > 0 {
		return candidates[0], nil
	}
	return "", nil
}

func (f *Fake) RerunPipeline(ctx context.Context, pipelineName, factoryName, resourceGroup string) (string, error) {
	f.record("rerun_pipeline")
	if f.RerunPipelineFn != nil {
		return f.RerunPipelineFn(pipelineName, factoryName, resourceGroup)
	}
	return "pipeline-run-1", nil
}

func (f *Fake) RollbackConfig(ctx context.Context, snapshot types.Snapshot) error {
	f.record("rollback_config")
	if f.RollbackConfigFn != nil {
		return f.RollbackConfigFn(snapshot)
	}
	return nil
}

func (f *Fake) GetClusterState(ctx context.Context, clusterID string) (types.ClusterState, error) {
	f.record("get_cluster_state")
	if f.GetClusterStateFn != nil {
		return f.GetClusterStateFn(clusterID)
	}
	return types.ClusterState{State: "RUNNING", WorkerCount: 2}, nil
}

func (f *Fake) GetRunState(ctx context.Context, runID string) (types.RunState, error) {
	f.record("get_run_state")
	if f.GetRunStateFn != nil {
		return f.GetRunStateFn(runID)
	}
	return types.RunState{LifeCycleState: "TERMINATED", ResultState: "SUCCESS"}, nil
}

func (f *Fake) GetPipelineRunState(ctx context.Context, runID string) (types.PipelineRunState, error) {
	f.record("get_pipeline_run_state")
	if f.GetPipelineRunStateFn != nil {
		return f.GetPipelineRunStateFn(runID)
	}
	return types.PipelineRunState{Status: "Succeeded"}, nil
}

// interface guard
var _ platform.Adapter = (*Fake)(nil)
