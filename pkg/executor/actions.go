package executor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pipeheal/pipeheal/pkg/platform"
	"github.com/pipeheal/pipeheal/pkg/playbook"
	"github.com/pipeheal/pipeheal/pkg/snapshot"
	"github.com/pipeheal/pipeheal/pkg/types"
	"github.com/pipeheal/pipeheal/pkg/verify"
)

// actionOutput is what one action invocation produced: the resource to
// health-check (nil when there is nothing to verify) and action-specific
// result metadata
type actionOutput struct {
	health   *verify.Resource
	metadata map[string]string
}

// doAction dispatches one action variant to the adapter
func (e *Executor) doAction(ctx context.Context, adapter platform.Adapter, pb playbook.Config, req types.RecoveryRequest, snaps *snapshot.Store) (actionOutput, error) {
	md := req.Metadata
	out := actionOutput{metadata: make(map[string]string)}

	switch pb.Action {
	case types.ActionRetryJob:
		jobID := md[types.MetaJobID]
		if jobID == "" {
			return out, platform.NewError(platform.KindPermanent, "executor.retry_job", "no job_id in request metadata")
		}
		newRunID, err := adapter.RetryJob(ctx, jobID)
		if err != nil {
			return out, err
		}
		out.metadata["new_run_id"] = newRunID
		out.health = &verify.Resource{Kind: verify.KindJobRun, ID: newRunID}
		return out, nil

	case types.ActionRestartCluster:
		clusterID := md[types.MetaClusterID]
		if clusterID == "" {
			return out, platform.NewError(platform.KindPermanent, "executor.restart_cluster", "no cluster_id in request metadata")
		}
		if err := adapter.RestartCluster(ctx, clusterID); err != nil {
			return out, err
		}
		out.health = &verify.Resource{Kind: verify.KindCluster, ID: clusterID}
		return out, nil

	case types.ActionScaleCluster:
		clusterID := md[types.MetaClusterID]
		if clusterID == "" {
			return out, platform.NewError(platform.KindPermanent, "executor.scale_cluster", "no cluster_id in request metadata")
		}
		pct := pb.ActionParams.ScalePercent
		if pct <= 0 {
			pct = e.cfg.ScaleUpPercentage
		}
		maxWorkers := pb.ActionParams.MaxWorkers
		if maxWorkers <= 0 {
			maxWorkers = e.cfg.MaxClusterWorkers
		}
		newCount, err := adapter.ScaleCluster(ctx, clusterID, pct, maxWorkers)
		if err != nil {
			return out, err
		}
		out.metadata["new_worker_count"] = strconv.Itoa(newCount)
		out.health = &verify.Resource{Kind: verify.KindCluster, ID: clusterID, WantWorkers: newCount}
		return out, nil

	case types.ActionLibraryFallback:
		clusterID := md[types.MetaClusterID]
		if clusterID == "" {
			return out, platform.NewError(platform.KindPermanent, "executor.library_fallback", "no cluster_id in request metadata")
		}
		library := md[types.MetaLibraryName]
		if library == "" {
			library = libraryFromError(md[types.MetaErrorMessage])
		}
		if library == "" {
			return out, platform.NewError(platform.KindPermanent, "executor.library_fallback", "could not determine library name")
		}
		name, failedVersion := parseLibrarySpec(library)
		candidates := candidateVersions(pb.ActionParams.LibraryVersions, name, failedVersion)

		installed, err := adapter.LibraryFallback(ctx, clusterID, name, candidates)
		if err != nil {
			return out, err
		}
		out.metadata["library_name"] = name
		out.metadata["installed_version"] = installed
		out.health = &verify.Resource{Kind: verify.KindCluster, ID: clusterID}
		return out, nil

	case types.ActionRerunPipeline:
		pipeline := md[types.MetaPipelineName]
		if pipeline == "" {
			return out, platform.NewError(platform.KindPermanent, "executor.rerun_pipeline", "no pipeline_name in request metadata")
		}
		newRunID, err := adapter.RerunPipeline(ctx, pipeline, md[types.MetaFactoryName], md[types.MetaResourceGroup])
		if err != nil {
			return out, err
		}
		out.metadata["new_run_id"] = newRunID
		out.health = &verify.Resource{Kind: verify.KindPipelineRun, ID: newRunID}
		return out, nil

	case types.ActionRollbackConfig:
		snap, ok := snaps.Latest()
		if !ok {
			return out, platform.NewError(platform.KindPermanent, "executor.rollback_config", "no snapshot to restore")
		}
		if err := adapter.RollbackConfig(ctx, snap); err != nil {
			return out, err
		}
		out.metadata["restored_resource"] = snap.ResourceID
		out.health = &verify.Resource{Kind: verify.KindCluster, ID: snap.ResourceID}
		return out, nil

	case types.ActionNoop:
		return out, nil

	default:
		return out, platform.NewError(platform.KindPermanent, "executor.do_action", fmt.Sprintf("unknown action %q", pb.Action))
	}
}

// withAction returns a copy of the playbook running a different action.
// Used for the fallback attempt: same budgets, same health policy.
func withAction(pb playbook.Config, action types.ActionType) playbook.Config {
	pb.Action = action
	return pb
}

// primaryResourceID selects the breaker-key resource for an action.
// Cluster actions key on the cluster, job actions on the job, pipeline
// actions on the pipeline; an absent id degrades to the global key.
func primaryResourceID(action types.ActionType, md map[string]string) string {
	switch action {
	case types.ActionRestartCluster, types.ActionScaleCluster, types.ActionLibraryFallback, types.ActionRollbackConfig:
		return md[types.MetaClusterID]
	case types.ActionRetryJob:
		return md[types.MetaJobID]
	case types.ActionRerunPipeline:
		return md[types.MetaPipelineName]
	default:
		return ""
	}
}

// snapshotTarget decides what to snapshot before a mutating action
func snapshotTarget(action types.ActionType, md map[string]string) (kind, id string) {
	switch action {
	case types.ActionRestartCluster, types.ActionScaleCluster, types.ActionLibraryFallback, types.ActionRollbackConfig:
		if clusterID := md[types.MetaClusterID]; clusterID != "" {
			return "cluster", clusterID
		}
	}
	return "", ""
}

var librarySpecRe = regexp.MustCompile(`requirement\s+([a-zA-Z0-9_.-]+(?:[><=~!]{1,2}[0-9][0-9a-zA-Z.]*)?)`)

// libraryFromError pulls a library spec out of an installer error message
func libraryFromError(errMsg string) string {
	m := librarySpecRe.FindStringSubmatch(errMsg)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// parseLibrarySpec splits "pandas==2.2.0" into ("pandas", "2.2.0").
// Range operators yield no pinned version.
func parseLibrarySpec(spec string) (name, version string) {
	for _, op := range []string{"==", ">=", "<=", "~=", ">", "<"} {
		if idx := strings.Index(spec, op); idx >= 0 {
			name = strings.TrimSpace(spec[:idx])
			if op == "==" {
				version = strings.TrimSpace(spec[idx+len(op):])
			}
			return name, version
		}
	}
	return strings.TrimSpace(spec), ""
}

// candidateVersions returns the fallback versions for a library, with
// the version that just failed filtered out
func candidateVersions(table map[string][]string, name, failedVersion string) []string {
	versions := table[name]
	if failedVersion == "" {
		return versions
	}
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		if v != failedVersion {
			out = append(out, v)
		}
	}
	return out
}
