// Package databricks implements the platform adapter for the Databricks
// REST API (Jobs 2.1, Clusters 2.0, Libraries 2.0).
package databricks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pipeheal/pipeheal/pkg/log"
	"github.com/pipeheal/pipeheal/pkg/platform"
	"github.com/pipeheal/pipeheal/pkg/types"
)

// Config holds Databricks workspace connection settings
type Config struct {
	Host  string // workspace URL, e.g. https://adb-123.azuredatabricks.net
	Token string // personal access token
}

// Adapter talks to one Databricks workspace
type Adapter struct {
	host   string
	token  string
	client *http.Client
}

// New creates a Databricks adapter
func New(cfg Config) (*Adapter, error) {
	if cfg.Host == "" || cfg.Token == "" {
		return nil, fmt.Errorf("databricks host and token are required")
	}
	return &Adapter{
		host:  strings.TrimRight(cfg.Host, "/"),
		token: cfg.Token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Platform implements platform.Adapter
func (a *Adapter) Platform() types.Platform {
	return types.PlatformDatabricks
}

// RetryJob triggers a new run of the job via jobs/run-now
func (a *Adapter) RetryJob(ctx context.Context, jobID string) (string, error) {
	const op = "databricks.retry_job"

	id, err := strconv.ParseInt(jobID, 10, 64)
	if err != nil {
		return "", platform.NewError(platform.KindPermanent, op, fmt.Sprintf("invalid job_id %q", jobID))
	}

	var out struct {
		RunID int64 `json:"run_id"`
	}
	payload := map[string]any{"job_id": id}
	if err := a.post(ctx, op, "/api/2.1/jobs/run-now", payload, &out); err != nil {
		return "", err
	}

	databricksLogger := log.WithComponent("databricks")
	databricksLogger.Info().
		Str("job_id", jobID).
		Int64("new_run_id", out.RunID).
		Msg("job retry triggered")

	return strconv.FormatInt(out.RunID, 10), nil
}

// RestartCluster issues clusters/start. An already running or starting
// cluster is acknowledged without calling the API.
func (a *Adapter) RestartCluster(ctx context.Context, clusterID string) error {
	const op = "databricks.restart_cluster"

	state, err := a.GetClusterState(ctx, clusterID)
	if err != nil {
		return err
	}
	if state.State == "RUNNING" || state.State == "PENDING" || state.State == "RESTARTING" {
		restartLogger := log.WithComponent("databricks")
		restartLogger.Info().
			Str("cluster_id", clusterID).
			Str("state", state.State).
			Msg("cluster already starting or running, restart skipped")
		return nil
	}

	payload := map[string]any{"cluster_id": clusterID}
	return a.post(ctx, op, "/api/2.0/clusters/start", payload, nil)
}

// ScaleCluster grows the worker count by deltaPercent capped at
// maxWorkers. Returns the new target count; equal to current means the
// cluster was already at capacity and no resize was issued.
func (a *Adapter) ScaleCluster(ctx context.Context, clusterID string, deltaPercent, maxWorkers int) (int, error) {
	const op = "databricks.scale_cluster"

	cluster, err := a.getCluster(ctx, clusterID)
	if err != nil {
		return 0, err
	}

	current := cluster.NumWorkers
	limit := maxWorkers
	if cluster.Autoscale != nil {
		if cluster.Autoscale.MinWorkers > current {
			current = cluster.Autoscale.MinWorkers
		}
		if cluster.Autoscale.MaxWorkers > 0 && cluster.Autoscale.MaxWorkers < limit {
			limit = cluster.Autoscale.MaxWorkers
		}
	}

	target := int(math.Ceil(float64(current) * (1 + float64(deltaPercent)/100)))
	if target > limit {
		target = limit
	}
	if target <= current {
		return current, nil
	}

	payload := map[string]any{
		"cluster_id":  clusterID,
		"num_workers": target,
	}
	if err := a.post(ctx, op, "/api/2.0/clusters/resize", payload, nil); err != nil {
		return 0, err
	}

	scaleLogger := log.WithComponent("databricks")
	scaleLogger.Info().
		Str("cluster_id", clusterID).
		Int("from", current).
		Int("to", target).
		Msg("cluster resize issued")

	return target, nil
}

// LibraryFallback installs candidate versions in order and returns the
// first one the workspace accepted
func (a *Adapter) LibraryFallback(ctx context.Context, clusterID, libraryName string, candidates []string) (string, error) {
	const op = "databricks.library_fallback"

	if len(candidates) == 0 {
		return "", platform.NewError(platform.KindPermanent, op, fmt.Sprintf("no candidate versions for %s", libraryName))
	}

	logger := log.WithComponent("databricks")
	for _, version := range candidates {
		spec := fmt.Sprintf("%s==%s", libraryName, version)
		payload := map[string]any{
			"cluster_id": clusterID,
			"libraries":  []map[string]any{{"pypi": map[string]string{"package": spec}}},
		}

		err := a.post(ctx, op, "/api/2.0/libraries/install", payload, nil)
		if err == nil {
			logger.Info().Str("cluster_id", clusterID).Str("library", spec).Msg("library install accepted")
			return version, nil
		}
		switch platform.KindOf(err) {
		case platform.KindAuthFailure, platform.KindNotFound:
			// will not improve with another version
			return "", err
		}
		logger.Warn().Str("library", spec).Err(err).Msg("library install rejected, trying next version")
	}

	return "", platform.NewError(platform.KindPermanent, op,
		fmt.Sprintf("all %d candidate versions rejected for %s", len(candidates), libraryName))
}

// RerunPipeline is not supported on Databricks
func (a *Adapter) RerunPipeline(ctx context.Context, pipelineName, factoryName, resourceGroup string) (string, error) {
	return "", platform.NewError(platform.KindPermanent, "databricks.rerun_pipeline", "pipeline reruns are an ADF capability")
}

// RollbackConfig restores the worker count captured in a cluster snapshot
func (a *Adapter) RollbackConfig(ctx context.Context, snapshot types.Snapshot) error {
	const op = "databricks.rollback_config"

	if snapshot.ResourceKind != "cluster" {
		return platform.NewError(platform.KindPermanent, op,
			fmt.Sprintf("cannot roll back resource kind %q", snapshot.ResourceKind))
	}
	workers, err := strconv.Atoi(snapshot.State["num_workers"])
	if err != nil {
		return platform.NewError(platform.KindPermanent, op, "snapshot has no num_workers")
	}

	payload := map[string]any{
		"cluster_id":  snapshot.ResourceID,
		"num_workers": workers,
	}
	return a.post(ctx, op, "/api/2.0/clusters/resize", payload, nil)
}

// GetClusterState fetches cluster state via clusters/get
func (a *Adapter) GetClusterState(ctx context.Context, clusterID string) (types.ClusterState, error) {
	cluster, err := a.getCluster(ctx, clusterID)
	if err != nil {
		return types.ClusterState{}, err
	}

	workers := cluster.NumWorkers
	if len(cluster.Executors) > 0 {
		workers = len(cluster.Executors)
	}

	reason := ""
	if cluster.TerminationReason != nil {
		reason = cluster.TerminationReason.Code
	}

	return types.ClusterState{
		State:             cluster.State,
		TerminationReason: reason,
		WorkerCount:       workers,
	}, nil
}

// GetRunState fetches job run state via jobs/runs/get
func (a *Adapter) GetRunState(ctx context.Context, runID string) (types.RunState, error) {
	const op = "databricks.get_run_state"

	var out struct {
		State struct {
			LifeCycleState string `json:"life_cycle_state"`
			ResultState    string `json:"result_state"`
			StateMessage   string `json:"state_message"`
		} `json:"state"`
	}
	q := url.Values{"run_id": {runID}}
	if err := a.get(ctx, op, "/api/2.1/jobs/runs/get", q, &out); err != nil {
		return types.RunState{}, err
	}

	return types.RunState{
		LifeCycleState: out.State.LifeCycleState,
		ResultState:    out.State.ResultState,
		ErrorMessage:   out.State.StateMessage,
	}, nil
}

// GetPipelineRunState is not supported on Databricks
func (a *Adapter) GetPipelineRunState(ctx context.Context, runID string) (types.PipelineRunState, error) {
	return types.PipelineRunState{}, platform.NewError(platform.KindPermanent, "databricks.get_pipeline_run_state", "pipeline runs are an ADF capability")
}

type clusterInfo struct {
	State             string `json:"state"`
	NumWorkers        int    `json:"num_workers"`
	TerminationReason *struct {
		Code string `json:"code"`
	} `json:"termination_reason"`
	Autoscale *struct {
		MinWorkers int `json:"min_workers"`
		MaxWorkers int `json:"max_workers"`
	} `json:"autoscale"`
	Executors []struct {
		NodeID string `json:"node_id"`
	} `json:"executors"`
}

func (a *Adapter) getCluster(ctx context.Context, clusterID string) (*clusterInfo, error) {
	const op = "databricks.get_cluster"

	var cluster clusterInfo
	q := url.Values{"cluster_id": {clusterID}}
	if err := a.get(ctx, op, "/api/2.0/clusters/get", q, &cluster); err != nil {
		return nil, err
	}
	return &cluster, nil
}

func (a *Adapter) get(ctx context.Context, op, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.host+path+"?"+query.Encode(), nil)
	if err != nil {
		return platform.WrapError(platform.KindPermanent, op, err)
	}
	return a.do(op, req, out)
}

func (a *Adapter) post(ctx context.Context, op, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return platform.WrapError(platform.KindPermanent, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.host+path, bytes.NewReader(body))
	if err != nil {
		return platform.WrapError(platform.KindPermanent, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(op, req, out)
}

func (a *Adapter) do(op string, req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return platform.WrapError(platform.KindTransient, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorFromStatus(op, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return platform.WrapError(platform.KindTransient, op, err)
	}
	return nil
}

func errorFromStatus(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return platform.NewError(platform.KindAuthFailure, op, msg)
	case resp.StatusCode == http.StatusNotFound:
		return platform.NewError(platform.KindNotFound, op, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		e := platform.NewError(platform.KindThrottled, op, msg)
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
		return e
	case resp.StatusCode >= 500:
		return platform.NewError(platform.KindTransient, op, msg)
	default:
		return platform.NewError(platform.KindPermanent, op, msg)
	}
}
