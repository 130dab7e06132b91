package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/pipeheal/pipeheal/pkg/types"
)

var testCfg = Config{
	FailureThreshold: 3,
	OpenTimeout:      60 * time.Second,
}

// fakeClock lets tests advance breaker time deterministically
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestFabric() (*Fabric, *fakeClock) {
	f := NewFabric()
	clock := newFakeClock()
	f.now = clock.Now
	return f, clock
}

func TestKey(t *testing.T) {
	if got := Key("DatabricksJobExecutionError", "job-1"); got != "DatabricksJobExecutionError:job-1" {
		t.Errorf("unexpected key: %s", got)
	}

	// missing resource id degrades to global
	if got := Key("DatabricksJobExecutionError", ""); got != "DatabricksJobExecutionError:global" {
		t.Errorf("unexpected key: %s", got)
	}
}

func TestAllow_ClosedByDefault(t *testing.T) {
	f, _ := newTestFabric()

	allowed, status := f.Allow("ET:r1", testCfg)
	if !allowed {
		t.Fatal("fresh breaker should allow")
	}
	if status.State != types.BreakerClosed {
		t.Errorf("expected CLOSED, got %s", status.State)
	}
}

func TestOpensAtThreshold(t *testing.T) {
	f, _ := newTestFabric()

	for i := 0; i < testCfg.FailureThreshold-1; i++ {
		f.RecordFailure("ET:r1", testCfg)
		if allowed, _ := f.Allow("ET:r1", testCfg); !allowed {
			t.Fatalf("breaker opened after %d failures, threshold is %d", i+1, testCfg.FailureThreshold)
		}
	}

	status := f.RecordFailure("ET:r1", testCfg)
	if status.State != types.BreakerOpen {
		t.Fatalf("expected OPEN after %d failures, got %s", testCfg.FailureThreshold, status.State)
	}
	if status.OpenedAt.IsZero() {
		t.Error("opened_at should be set")
	}

	if allowed, _ := f.Allow("ET:r1", testCfg); allowed {
		t.Error("open breaker must reject")
	}
}

func TestSuccessResetsStreak(t *testing.T) {
	f, _ := newTestFabric()

	f.RecordFailure("ET:r1", testCfg)
	f.RecordFailure("ET:r1", testCfg)
	f.RecordSuccess("ET:r1")

	status := f.Snapshot("ET:r1")
	if status.ConsecutiveFailures != 0 {
		t.Errorf("expected streak reset, got %d", status.ConsecutiveFailures)
	}

	// threshold must be counted from scratch again
	f.RecordFailure("ET:r1", testCfg)
	f.RecordFailure("ET:r1", testCfg)
	if allowed, _ := f.Allow("ET:r1", testCfg); !allowed {
		t.Error("breaker should still be closed after streak reset")
	}
}

func TestHalfOpenSingleProbe(t *testing.T) {
	f, clock := newTestFabric()

	for i := 0; i < testCfg.FailureThreshold; i++ {
		f.RecordFailure("ET:r1", testCfg)
	}

	// still inside the open window
	clock.Advance(testCfg.OpenTimeout - time.Second)
	if allowed, _ := f.Allow("ET:r1", testCfg); allowed {
		t.Fatal("breaker should reject inside the open window")
	}

	// window elapsed: exactly one probe admitted
	clock.Advance(2 * time.Second)
	allowed, status := f.Allow("ET:r1", testCfg)
	if !allowed {
		t.Fatal("probe should be admitted after the open window")
	}
	if status.State != types.BreakerHalfOpen {
		t.Errorf("expected HALF_OPEN, got %s", status.State)
	}

	// concurrent second request is rejected while the probe is in flight
	if allowed, _ := f.Allow("ET:r1", testCfg); allowed {
		t.Error("only one probe may be in flight")
	}
}

func TestProbeSuccessCloses(t *testing.T) {
	f, clock := newTestFabric()

	for i := 0; i < testCfg.FailureThreshold; i++ {
		f.RecordFailure("ET:r1", testCfg)
	}
	clock.Advance(testCfg.OpenTimeout)

	if allowed, _ := f.Allow("ET:r1", testCfg); !allowed {
		t.Fatal("probe should be admitted")
	}

	status := f.RecordSuccess("ET:r1")
	if status.State != types.BreakerClosed {
		t.Errorf("expected CLOSED after probe success, got %s", status.State)
	}
	if allowed, _ := f.Allow("ET:r1", testCfg); !allowed {
		t.Error("closed breaker should allow")
	}
}

func TestProbeFailureReopens(t *testing.T) {
	f, clock := newTestFabric()

	for i := 0; i < testCfg.FailureThreshold; i++ {
		f.RecordFailure("ET:r1", testCfg)
	}
	clock.Advance(testCfg.OpenTimeout)

	if allowed, _ := f.Allow("ET:r1", testCfg); !allowed {
		t.Fatal("probe should be admitted")
	}

	status := f.RecordFailure("ET:r1", testCfg)
	if status.State != types.BreakerOpen {
		t.Fatalf("expected OPEN after probe failure, got %s", status.State)
	}

	// opened_at was reset, so the full window applies again
	clock.Advance(testCfg.OpenTimeout - time.Second)
	if allowed, _ := f.Allow("ET:r1", testCfg); allowed {
		t.Error("breaker should reject inside the renewed open window")
	}
	clock.Advance(2 * time.Second)
	if allowed, _ := f.Allow("ET:r1", testCfg); !allowed {
		t.Error("probe should be admitted after the renewed window")
	}
}

func TestResetIdempotent(t *testing.T) {
	f, _ := newTestFabric()

	for i := 0; i < testCfg.FailureThreshold; i++ {
		f.RecordFailure("ET:r1", testCfg)
	}

	first := f.Reset("ET:r1")
	second := f.Reset("ET:r1")
	third := f.Reset("ET:r1")

	for _, status := range []types.BreakerStatus{first, second, third} {
		if status.State != types.BreakerClosed {
			t.Errorf("expected CLOSED after reset, got %s", status.State)
		}
		if status.ConsecutiveFailures != 0 {
			t.Errorf("expected zero failures after reset, got %d", status.ConsecutiveFailures)
		}
	}

	if allowed, _ := f.Allow("ET:r1", testCfg); !allowed {
		t.Error("reset breaker should allow")
	}
}

func TestZeroThresholdDisablesBreaker(t *testing.T) {
	f, _ := newTestFabric()
	cfg := Config{FailureThreshold: 0, OpenTimeout: time.Minute}

	for i := 0; i < 10; i++ {
		f.RecordFailure("ET:r1", cfg)
		if allowed, _ := f.Allow("ET:r1", cfg); !allowed {
			t.Fatal("disabled breaker must always allow")
		}
	}
}

func TestKeysAreIndependent(t *testing.T) {
	f, _ := newTestFabric()

	for i := 0; i < testCfg.FailureThreshold; i++ {
		f.RecordFailure("ET:r1", testCfg)
	}

	if allowed, _ := f.Allow("ET:r1", testCfg); allowed {
		t.Error("r1 should be open")
	}
	if allowed, _ := f.Allow("ET:r2", testCfg); !allowed {
		t.Error("r2 should be unaffected")
	}
}

func TestSnapshotDoesNotCreate(t *testing.T) {
	f, _ := newTestFabric()

	status := f.Snapshot("ET:never-seen")
	if status.State != types.BreakerClosed {
		t.Errorf("unknown key should read CLOSED, got %s", status.State)
	}
	if len(f.SnapshotAll()) != 0 {
		t.Error("Snapshot must not create breakers")
	}
}

func TestSnapshotAllSorted(t *testing.T) {
	f, _ := newTestFabric()

	f.RecordFailure("B:r", testCfg)
	f.RecordFailure("A:r", testCfg)
	f.RecordFailure("C:r", testCfg)

	all := f.SnapshotAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 breakers, got %d", len(all))
	}
	if all[0].Key != "A:r" || all[1].Key != "B:r" || all[2].Key != "C:r" {
		t.Errorf("snapshots not sorted: %v", []string{all[0].Key, all[1].Key, all[2].Key})
	}
}

func TestConcurrentOutcomes(t *testing.T) {
	f, _ := newTestFabric()
	cfg := Config{FailureThreshold: 1000, OpenTimeout: time.Minute}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				f.Allow("ET:r1", cfg)
				f.RecordFailure("ET:r1", cfg)
			}
		}()
	}
	wg.Wait()

	status := f.Snapshot("ET:r1")
	if status.ConsecutiveFailures != 500 {
		t.Errorf("expected 500 recorded failures, got %d", status.ConsecutiveFailures)
	}
}
