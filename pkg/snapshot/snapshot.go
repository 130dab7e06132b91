// Package snapshot captures resource state before a mutating recovery
// action so a terminal failure can be rolled back. Snapshots are scoped
// to one executor invocation and never persisted.
package snapshot

import (
	"context"
	"strconv"
	"time"

	"github.com/pipeheal/pipeheal/pkg/log"
	"github.com/pipeheal/pipeheal/pkg/platform"
	"github.com/pipeheal/pipeheal/pkg/types"
)

// Store holds the snapshots taken during one recovery invocation
type Store struct {
	snapshots []types.Snapshot
}

// NewStore creates an empty invocation-scoped store
func NewStore() *Store {
	return &Store{}
}

// Capture records the current state of a resource. Only clusters carry
// state worth restoring today; other kinds capture an empty snapshot so
// the attempt is still auditable.
func (s *Store) Capture(ctx context.Context, adapter platform.Adapter, kind, resourceID string) (types.Snapshot, error) {
	snap := types.Snapshot{
		ResourceKind: kind,
		ResourceID:   resourceID,
		CapturedAt:   time.Now(),
		State:        make(map[string]string),
	}

	if kind == "cluster" {
		state, err := adapter.GetClusterState(ctx, resourceID)
		if err != nil {
			return types.Snapshot{}, err
		}
		snap.State["num_workers"] = strconv.Itoa(state.WorkerCount)
		snap.State["state"] = state.State
	}

	s.snapshots = append(s.snapshots, snap)
	snapLogger := log.WithComponent("snapshot")
	snapLogger.Debug().
		Str("kind", kind).
		Str("resource_id", resourceID).
		Msg("snapshot captured")
	return snap, nil
}

// Latest returns the most recent snapshot, if any
func (s *Store) Latest() (types.Snapshot, bool) {
	if len(s.snapshots) == 0 {
		return types.Snapshot{}, false
	}
	return s.snapshots[len(s.snapshots)-1], true
}

// Rollback restores the most recent snapshot through the adapter.
// Failures are logged, never propagated: rollback must not mask the
// original outcome.
func (s *Store) Rollback(ctx context.Context, adapter platform.Adapter) bool {
	snap, ok := s.Latest()
	if !ok {
		return false
	}
	if len(snap.State) == 0 {
		return false
	}

	logger := log.WithComponent("snapshot")
	if err := adapter.RollbackConfig(ctx, snap); err != nil {
		logger.Warn().
			Str("kind", snap.ResourceKind).
			Str("resource_id", snap.ResourceID).
			Err(err).
			Msg("rollback failed")
		return false
	}

	logger.Info().
		Str("kind", snap.ResourceKind).
		Str("resource_id", snap.ResourceID).
		Msg("rolled back to pre-action state")
	return true
}
