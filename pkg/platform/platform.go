// Package platform defines the capability contract recovery actions run
// against, and the typed error taxonomy adapters report through.
package platform

import (
	"context"

	"github.com/pipeheal/pipeheal/pkg/types"
)

// Adapter is the capability set a platform must expose for recovery
// actions and post-action state fetches. All calls honor the caller's
// context deadline and return *Error for expected failure modes.
type Adapter interface {
	// Platform returns the platform this adapter serves
	Platform() types.Platform

	// RetryJob triggers a new run of a failed job and returns the new run ID
	RetryJob(ctx context.Context, jobID string) (string, error)

	// RestartCluster issues a cluster restart. Restarting an already
	// running cluster is acknowledged as a no-op; the health verifier
	// decides whether the cluster is actually usable.
	RestartCluster(ctx context.Context, clusterID string) error

	// ScaleCluster grows the cluster worker count by deltaPercent,
	// capped at maxWorkers, and returns the new target count. A target
	// equal to the current count is returned without issuing a resize.
	ScaleCluster(ctx context.Context, clusterID string, deltaPercent, maxWorkers int) (int, error)

	// LibraryFallback tries installing each candidate version in order
	// and returns the first version the platform accepted
	LibraryFallback(ctx context.Context, clusterID, libraryName string, candidates []string) (string, error)

	// RerunPipeline triggers a new pipeline run and returns the new run ID
	RerunPipeline(ctx context.Context, pipelineName, factoryName, resourceGroup string) (string, error)

	// RollbackConfig restores a resource to a previously captured state
	RollbackConfig(ctx context.Context, snapshot types.Snapshot) error

	// GetClusterState fetches the current cluster state
	GetClusterState(ctx context.Context, clusterID string) (types.ClusterState, error)

	// GetRunState fetches the current job run state
	GetRunState(ctx context.Context, runID string) (types.RunState, error)

	// GetPipelineRunState fetches the current pipeline run state
	GetPipelineRunState(ctx context.Context, runID string) (types.PipelineRunState, error)
}

// Registry maps platform names to their adapters
type Registry struct {
	adapters map[types.Platform]Adapter
}

// NewRegistry creates an adapter registry
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[types.Platform]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

// Get returns the adapter for a platform, or nil if none is registered
func (r *Registry) Get(p types.Platform) Adapter {
	return r.adapters[p]
}
