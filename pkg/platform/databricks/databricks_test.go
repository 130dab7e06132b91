package databricks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeheal/pipeheal/pkg/platform"
	"github.com/pipeheal/pipeheal/pkg/types"
)

func snapshotFor(clusterID, workers string) types.Snapshot {
	return types.Snapshot{
		ResourceKind: "cluster",
		ResourceID:   clusterID,
		State:        map[string]string{"num_workers": workers},
	}
}

// fakeWorkspace serves the handful of Databricks endpoints the adapter
// uses
type fakeWorkspace struct {
	t       *testing.T
	cluster map[string]any
	runNow  func(w http.ResponseWriter, r *http.Request)
	resized []int
	library []string
}

func (f *fakeWorkspace) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.1/jobs/run-now", func(w http.ResponseWriter, r *http.Request) {
		if f.runNow != nil {
			f.runNow(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"run_id": 9001})
	})
	mux.HandleFunc("/api/2.1/jobs/runs/get", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"state": map[string]any{
				"life_cycle_state": "TERMINATED",
				"result_state":     "SUCCESS",
			},
		})
	})
	mux.HandleFunc("/api/2.0/clusters/get", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(f.cluster)
	})
	mux.HandleFunc("/api/2.0/clusters/resize", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			NumWorkers int `json:"num_workers"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&payload))
		f.resized = append(f.resized, payload.NumWorkers)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	})
	mux.HandleFunc("/api/2.0/clusters/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	})
	mux.HandleFunc("/api/2.0/libraries/install", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Libraries []struct {
				Pypi struct {
					Package string `json:"package"`
				} `json:"pypi"`
			} `json:"libraries"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(f.t, payload.Libraries, 1)
		spec := payload.Libraries[0].Pypi.Package
		f.library = append(f.library, spec)

		// only the 2.0.3 build exists in this fake index
		if spec == "pandas==2.0.3" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("{}"))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_code":"INVALID_PARAMETER_VALUE"}`))
	})
	return mux
}

func newTestAdapter(t *testing.T, ws *fakeWorkspace) (*Adapter, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(ws.handler())
	t.Cleanup(server.Close)

	adapter, err := New(Config{Host: server.URL, Token: "test-token"})
	require.NoError(t, err)
	return adapter, server
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Host: "https://example"})
	assert.Error(t, err)
}

func TestRetryJob(t *testing.T) {
	ws := &fakeWorkspace{t: t}
	adapter, _ := newTestAdapter(t, ws)

	runID, err := adapter.RetryJob(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "9001", runID)
}

func TestRetryJob_InvalidJobID(t *testing.T) {
	ws := &fakeWorkspace{t: t}
	adapter, _ := newTestAdapter(t, ws)

	_, err := adapter.RetryJob(context.Background(), "not-a-number")
	require.Error(t, err)
	assert.Equal(t, platform.KindPermanent, platform.KindOf(err))
}

func TestRetryJob_ErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		kind   platform.ErrorKind
	}{
		{http.StatusUnauthorized, platform.KindAuthFailure},
		{http.StatusForbidden, platform.KindAuthFailure},
		{http.StatusNotFound, platform.KindNotFound},
		{http.StatusTooManyRequests, platform.KindThrottled},
		{http.StatusInternalServerError, platform.KindTransient},
		{http.StatusBadRequest, platform.KindPermanent},
	}

	for _, tt := range tests {
		ws := &fakeWorkspace{t: t}
		ws.runNow = func(w http.ResponseWriter, r *http.Request) {
			if tt.status == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "17")
			}
			w.WriteHeader(tt.status)
		}
		adapter, _ := newTestAdapter(t, ws)

		_, err := adapter.RetryJob(context.Background(), "123")
		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.kind, platform.KindOf(err), "status %d", tt.status)

		if tt.status == http.StatusTooManyRequests {
			assert.Equal(t, float64(17), platform.RetryAfterOf(err).Seconds())
		}
	}
}

func TestScaleCluster(t *testing.T) {
	ws := &fakeWorkspace{t: t, cluster: map[string]any{
		"state":       "RUNNING",
		"num_workers": 4,
	}}
	adapter, _ := newTestAdapter(t, ws)

	// 4 * 1.5 = 6
	target, err := adapter.ScaleCluster(context.Background(), "c-1", 50, 10)
	require.NoError(t, err)
	assert.Equal(t, 6, target)
	assert.Equal(t, []int{6}, ws.resized)
}

func TestScaleCluster_CapApplies(t *testing.T) {
	ws := &fakeWorkspace{t: t, cluster: map[string]any{
		"state":       "RUNNING",
		"num_workers": 8,
	}}
	adapter, _ := newTestAdapter(t, ws)

	target, err := adapter.ScaleCluster(context.Background(), "c-1", 50, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, target)
}

func TestScaleCluster_AtCapacityIsNoop(t *testing.T) {
	ws := &fakeWorkspace{t: t, cluster: map[string]any{
		"state":       "RUNNING",
		"num_workers": 10,
	}}
	adapter, _ := newTestAdapter(t, ws)

	target, err := adapter.ScaleCluster(context.Background(), "c-1", 50, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, target)
	assert.Empty(t, ws.resized, "no resize should be issued at capacity")
}

func TestRestartCluster_SkipsWhenRunning(t *testing.T) {
	ws := &fakeWorkspace{t: t, cluster: map[string]any{
		"state": "RUNNING",
	}}
	adapter, _ := newTestAdapter(t, ws)

	err := adapter.RestartCluster(context.Background(), "c-1")
	assert.NoError(t, err)
}

func TestRestartCluster_StartsTerminated(t *testing.T) {
	ws := &fakeWorkspace{t: t, cluster: map[string]any{
		"state": "TERMINATED",
	}}
	adapter, _ := newTestAdapter(t, ws)

	err := adapter.RestartCluster(context.Background(), "c-1")
	assert.NoError(t, err)
}

func TestLibraryFallback_FirstAcceptedWins(t *testing.T) {
	ws := &fakeWorkspace{t: t}
	adapter, _ := newTestAdapter(t, ws)

	installed, err := adapter.LibraryFallback(context.Background(), "c-1", "pandas", []string{"2.1.0", "2.0.3", "1.5.3"})
	require.NoError(t, err)
	assert.Equal(t, "2.0.3", installed)
	assert.Equal(t, []string{"pandas==2.1.0", "pandas==2.0.3"}, ws.library)
}

func TestLibraryFallback_Exhausted(t *testing.T) {
	ws := &fakeWorkspace{t: t}
	adapter, _ := newTestAdapter(t, ws)

	_, err := adapter.LibraryFallback(context.Background(), "c-1", "pandas", []string{"9.9.9", "8.8.8"})
	require.Error(t, err)
	assert.Equal(t, platform.KindPermanent, platform.KindOf(err))
}

func TestGetClusterState(t *testing.T) {
	ws := &fakeWorkspace{t: t, cluster: map[string]any{
		"state":       "RUNNING",
		"num_workers": 4,
		"executors": []map[string]any{
			{"node_id": "a"}, {"node_id": "b"}, {"node_id": "c"}, {"node_id": "d"},
		},
	}}
	adapter, _ := newTestAdapter(t, ws)

	state, err := adapter.GetClusterState(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", state.State)
	assert.Equal(t, 4, state.WorkerCount)
	assert.Empty(t, state.TerminationReason)
}

func TestGetRunState(t *testing.T) {
	ws := &fakeWorkspace{t: t}
	adapter, _ := newTestAdapter(t, ws)

	state, err := adapter.GetRunState(context.Background(), "9001")
	require.NoError(t, err)
	assert.Equal(t, "TERMINATED", state.LifeCycleState)
	assert.Equal(t, "SUCCESS", state.ResultState)
}

func TestRollbackConfig(t *testing.T) {
	ws := &fakeWorkspace{t: t, cluster: map[string]any{"state": "RUNNING", "num_workers": 6}}
	adapter, _ := newTestAdapter(t, ws)

	err := adapter.RollbackConfig(context.Background(), snapshotFor("c-1", "4"))
	require.NoError(t, err)
	assert.Equal(t, []int{4}, ws.resized)
}

func TestRollbackConfig_RejectsNonCluster(t *testing.T) {
	ws := &fakeWorkspace{t: t}
	adapter, _ := newTestAdapter(t, ws)

	snap := snapshotFor("r-1", "4")
	snap.ResourceKind = "job_run"
	err := adapter.RollbackConfig(context.Background(), snap)
	assert.Error(t, err)
}
