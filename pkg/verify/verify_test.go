package verify

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pipeheal/pipeheal/pkg/platform/platformtest"
	"github.com/pipeheal/pipeheal/pkg/types"
)

func fastVerifier() *Verifier {
	return &Verifier{PollInterval: time.Millisecond}
}

func TestWait_ClusterBecomesRunning(t *testing.T) {
	fake := platformtest.NewFake(types.PlatformDatabricks)

	var polls int32
	fake.GetClusterStateFn = func(clusterID string) (types.ClusterState, error) {
		if atomic.AddInt32(&polls, 1) < 3 {
			return types.ClusterState{State: "PENDING"}, nil
		}
		return types.ClusterState{State: "RUNNING", WorkerCount: 4}, nil
	}

	result := fastVerifier().Wait(context.Background(), fake, Resource{Kind: KindCluster, ID: "c-1"}, time.Second)
	if !result.Healthy {
		t.Fatalf("expected healthy, got %q", result.Reason)
	}
	if atomic.LoadInt32(&polls) < 3 {
		t.Errorf("expected at least 3 polls, got %d", polls)
	}
}

func TestWait_ClusterErrorIsTerminal(t *testing.T) {
	fake := platformtest.NewFake(types.PlatformDatabricks)
	fake.GetClusterStateFn = func(clusterID string) (types.ClusterState, error) {
		return types.ClusterState{State: "ERROR"}, nil
	}

	result := fastVerifier().Wait(context.Background(), fake, Resource{Kind: KindCluster, ID: "c-1"}, time.Second)
	if result.Healthy {
		t.Fatal("ERROR state must be unhealthy")
	}
	if result.TimedOut {
		t.Error("terminal unhealthy is not a timeout")
	}
}

func TestWait_ClusterWithTerminationReason(t *testing.T) {
	fake := platformtest.NewFake(types.PlatformDatabricks)
	fake.GetClusterStateFn = func(clusterID string) (types.ClusterState, error) {
		return types.ClusterState{State: "RUNNING", TerminationReason: "SPOT_INSTANCE_TERMINATION"}, nil
	}

	result := fastVerifier().Wait(context.Background(), fake, Resource{Kind: KindCluster, ID: "c-1"}, time.Second)
	if result.Healthy {
		t.Fatal("a running cluster with a termination reason is unhealthy")
	}
}

func TestWait_ScaleWaitsForWorkerCount(t *testing.T) {
	fake := platformtest.NewFake(types.PlatformDatabricks)

	var polls int32
	fake.GetClusterStateFn = func(clusterID string) (types.ClusterState, error) {
		n := atomic.AddInt32(&polls, 1)
		workers := 4
		if n >= 3 {
			workers = 6
		}
		return types.ClusterState{State: "RUNNING", WorkerCount: workers}, nil
	}

	res := Resource{Kind: KindCluster, ID: "c-1", WantWorkers: 6}
	result := fastVerifier().Wait(context.Background(), fake, res, time.Second)
	if !result.Healthy {
		t.Fatalf("expected healthy once worker count reached, got %q", result.Reason)
	}
}

func TestWait_JobRunSuccess(t *testing.T) {
	fake := platformtest.NewFake(types.PlatformDatabricks)

	var polls int32
	fake.GetRunStateFn = func(runID string) (types.RunState, error) {
		if atomic.AddInt32(&polls, 1) < 2 {
			return types.RunState{LifeCycleState: "RUNNING"}, nil
		}
		return types.RunState{LifeCycleState: "TERMINATED", ResultState: "SUCCESS"}, nil
	}

	result := fastVerifier().Wait(context.Background(), fake, Resource{Kind: KindJobRun, ID: "r-2"}, time.Second)
	if !result.Healthy {
		t.Fatalf("expected healthy, got %q", result.Reason)
	}
}

func TestWait_JobRunFailed(t *testing.T) {
	fake := platformtest.NewFake(types.PlatformDatabricks)
	fake.GetRunStateFn = func(runID string) (types.RunState, error) {
		return types.RunState{LifeCycleState: "TERMINATED", ResultState: "FAILED", ErrorMessage: "OOM"}, nil
	}

	result := fastVerifier().Wait(context.Background(), fake, Resource{Kind: KindJobRun, ID: "r-2"}, time.Second)
	if result.Healthy {
		t.Fatal("FAILED run must be unhealthy")
	}
}

func TestWait_PipelineRun(t *testing.T) {
	tests := []struct {
		status  string
		healthy bool
	}{
		{"Succeeded", true},
		{"Failed", false},
		{"Cancelled", false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			fake := platformtest.NewFake(types.PlatformADF)
			fake.GetPipelineRunStateFn = func(runID string) (types.PipelineRunState, error) {
				return types.PipelineRunState{Status: tt.status}, nil
			}

			result := fastVerifier().Wait(context.Background(), fake, Resource{Kind: KindPipelineRun, ID: "p-1"}, time.Second)
			if result.Healthy != tt.healthy {
				t.Errorf("status %s: healthy = %v, want %v", tt.status, result.Healthy, tt.healthy)
			}
		})
	}
}

func TestWait_Timeout(t *testing.T) {
	fake := platformtest.NewFake(types.PlatformDatabricks)
	fake.GetClusterStateFn = func(clusterID string) (types.ClusterState, error) {
		return types.ClusterState{State: "RESTARTING"}, nil
	}

	result := fastVerifier().Wait(context.Background(), fake, Resource{Kind: KindCluster, ID: "c-1"}, 20*time.Millisecond)
	if result.Healthy {
		t.Fatal("expected timeout")
	}
	if !result.TimedOut {
		t.Error("TimedOut should be set")
	}
	if result.Reason != "timeout" {
		t.Errorf("expected reason timeout, got %q", result.Reason)
	}
}

func TestWait_FetchErrorsKeepPolling(t *testing.T) {
	fake := platformtest.NewFake(types.PlatformDatabricks)

	var polls int32
	fake.GetClusterStateFn = func(clusterID string) (types.ClusterState, error) {
		if atomic.AddInt32(&polls, 1) < 3 {
			return types.ClusterState{}, context.DeadlineExceeded
		}
		return types.ClusterState{State: "RUNNING", WorkerCount: 1}, nil
	}

	result := fastVerifier().Wait(context.Background(), fake, Resource{Kind: KindCluster, ID: "c-1"}, time.Second)
	if !result.Healthy {
		t.Fatalf("fetch errors should not be terminal, got %q", result.Reason)
	}
}

func TestWait_CallerCancellation(t *testing.T) {
	fake := platformtest.NewFake(types.PlatformDatabricks)
	fake.GetClusterStateFn = func(clusterID string) (types.ClusterState, error) {
		return types.ClusterState{State: "PENDING"}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result := fastVerifier().Wait(ctx, fake, Resource{Kind: KindCluster, ID: "c-1"}, 10*time.Second)
	if result.Healthy {
		t.Fatal("cancelled wait cannot be healthy")
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation should end the wait early")
	}
}
