package adf

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeheal/pipeheal/pkg/platform"
)

func TestNew_RequiresWebhook(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_DerivesStatusURL(t *testing.T) {
	adapter, err := New(Config{RerunWebhookURL: "https://logic.example/workflows/abc/retry"})
	require.NoError(t, err)
	assert.Equal(t, "https://logic.example/workflows/abc/status", adapter.statusURL)
}

func TestRerunPipeline(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"run_id": "adf-run-7"})
	}))
	defer server.Close()

	adapter, err := New(Config{RerunWebhookURL: server.URL})
	require.NoError(t, err)

	runID, err := adapter.RerunPipeline(context.Background(), "daily-load", "factory-1", "rg-data")
	require.NoError(t, err)
	assert.Equal(t, "adf-run-7", runID)
	assert.Equal(t, "daily-load", got["pipeline_name"])
	assert.Equal(t, "factory-1", got["factory_name"])
	assert.Equal(t, "rg-data", got["resource_group"])
}

func TestRerunPipeline_NoRunID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))
	defer server.Close()

	adapter, err := New(Config{RerunWebhookURL: server.URL})
	require.NoError(t, err)

	_, err = adapter.RerunPipeline(context.Background(), "daily-load", "", "")
	require.Error(t, err)
	assert.Equal(t, platform.KindTransient, platform.KindOf(err))
}

func TestGetPipelineRunState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "adf-run-7", req["run_id"])
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "Succeeded"})
	}))
	defer server.Close()

	adapter, err := New(Config{RerunWebhookURL: server.URL, StatusWebhookURL: server.URL})
	require.NoError(t, err)

	state, err := adapter.GetPipelineRunState(context.Background(), "adf-run-7")
	require.NoError(t, err)
	assert.Equal(t, "Succeeded", state.Status)
}

func TestGetPipelineRunState_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	adapter, err := New(Config{RerunWebhookURL: server.URL, StatusWebhookURL: server.URL})
	require.NoError(t, err)

	_, err = adapter.GetPipelineRunState(context.Background(), "adf-run-7")
	require.Error(t, err)
	assert.Equal(t, platform.KindTransient, platform.KindOf(err))
}

func TestClusterOperationsUnsupported(t *testing.T) {
	adapter, err := New(Config{RerunWebhookURL: "https://logic.example/retry"})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = adapter.RetryJob(ctx, "1")
	assert.Equal(t, platform.KindPermanent, platform.KindOf(err))

	err = adapter.RestartCluster(ctx, "c")
	assert.Equal(t, platform.KindPermanent, platform.KindOf(err))

	_, err = adapter.ScaleCluster(ctx, "c", 50, 10)
	assert.Equal(t, platform.KindPermanent, platform.KindOf(err))
}
