// Package adf implements the platform adapter for Azure Data Factory.
// Pipeline reruns and status checks go through a Logic App webhook pair,
// which keeps Azure credentials out of this process.
package adf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pipeheal/pipeheal/pkg/log"
	"github.com/pipeheal/pipeheal/pkg/platform"
	"github.com/pipeheal/pipeheal/pkg/types"
)

// Config holds the Logic App endpoints for pipeline operations
type Config struct {
	RerunWebhookURL  string // triggers a pipeline rerun, returns the new run id
	StatusWebhookURL string // reports status for a run id
}

// Adapter talks to ADF through the configured Logic App
type Adapter struct {
	rerunURL  string
	statusURL string
	client    *http.Client
}

// New creates an ADF adapter. The status URL defaults to the rerun URL
// with its first /retry segment replaced by /status.
func New(cfg Config) (*Adapter, error) {
	if cfg.RerunWebhookURL == "" {
		return nil, fmt.Errorf("adf rerun webhook URL is required")
	}
	statusURL := cfg.StatusWebhookURL
	if statusURL == "" {
		statusURL = strings.Replace(cfg.RerunWebhookURL, "/retry", "/status", 1)
	}
	return &Adapter{
		rerunURL:  cfg.RerunWebhookURL,
		statusURL: statusURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Platform implements platform.Adapter
func (a *Adapter) Platform() types.Platform {
	return types.PlatformADF
}

// RerunPipeline triggers a new pipeline run through the Logic App
func (a *Adapter) RerunPipeline(ctx context.Context, pipelineName, factoryName, resourceGroup string) (string, error) {
	const op = "adf.rerun_pipeline"

	payload := map[string]string{
		"pipeline_name": pipelineName,
	}
	if factoryName != "" {
		payload["factory_name"] = factoryName
	}
	if resourceGroup != "" {
		payload["resource_group"] = resourceGroup
	}

	var out struct {
		RunID string `json:"run_id"`
	}
	if err := a.post(ctx, op, a.rerunURL, payload, &out); err != nil {
		return "", err
	}
	if out.RunID == "" {
		return "", platform.NewError(platform.KindTransient, op, "logic app returned no run_id")
	}

	adfLogger := log.WithComponent("adf")
	adfLogger.Info().
		Str("pipeline", pipelineName).
		Str("new_run_id", out.RunID).
		Msg("pipeline rerun triggered")

	return out.RunID, nil
}

// GetPipelineRunState reports the pipeline run status through the Logic App
func (a *Adapter) GetPipelineRunState(ctx context.Context, runID string) (types.PipelineRunState, error) {
	const op = "adf.get_pipeline_run_state"

	payload := map[string]string{"run_id": runID}
	var out struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := a.post(ctx, op, a.statusURL, payload, &out); err != nil {
		return types.PipelineRunState{}, err
	}
	if out.Status == "" {
		out.Status = "Unknown"
	}
	return types.PipelineRunState{
		Status:       out.Status,
		ErrorMessage: out.Error,
	}, nil
}

// RetryJob is not supported on ADF
func (a *Adapter) RetryJob(ctx context.Context, jobID string) (string, error) {
	return "", a.unsupported("adf.retry_job")
}

// RestartCluster is not supported on ADF
func (a *Adapter) RestartCluster(ctx context.Context, clusterID string) error {
	return a.unsupported("adf.restart_cluster")
}

// ScaleCluster is not supported on ADF
func (a *Adapter) ScaleCluster(ctx context.Context, clusterID string, deltaPercent, maxWorkers int) (int, error) {
	return 0, a.unsupported("adf.scale_cluster")
}

// LibraryFallback is not supported on ADF
func (a *Adapter) LibraryFallback(ctx context.Context, clusterID, libraryName string, candidates []string) (string, error) {
	return "", a.unsupported("adf.library_fallback")
}

// RollbackConfig is not supported on ADF
func (a *Adapter) RollbackConfig(ctx context.Context, snapshot types.Snapshot) error {
	return a.unsupported("adf.rollback_config")
}

// GetClusterState is not supported on ADF
func (a *Adapter) GetClusterState(ctx context.Context, clusterID string) (types.ClusterState, error) {
	return types.ClusterState{}, a.unsupported("adf.get_cluster_state")
}

// GetRunState is not supported on ADF
func (a *Adapter) GetRunState(ctx context.Context, runID string) (types.RunState, error) {
	return types.RunState{}, a.unsupported("adf.get_run_state")
}

func (a *Adapter) unsupported(op string) error {
	return platform.NewError(platform.KindPermanent, op, "operation not supported on adf")
}

func (a *Adapter) post(ctx context.Context, op, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return platform.WrapError(platform.KindPermanent, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return platform.WrapError(platform.KindPermanent, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

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
