package aclengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// NewBundleID generates a correlation id for one outgoing mutation
// bundle, for document servers that don't already have their own
// transaction id to reuse as the BeforeBroadcast/AfterBroadcast key.
func NewBundleID() string {
	return uuid.NewString()
}

// SnapshotBuilder loads the before/after row images a broadcast needs
// to plan row transitions for every recipient. It is expensive enough
// (typically a document-store read) that it should run once per
// outgoing bundle no matter how many sessions are subscribed.
type SnapshotBuilder func(ctx context.Context) (RowSnapshotBundle, error)

// BroadcastCoordinator fans one outgoing mutation bundle out to every
// subscribed session's own filtered view of it. Building the shared
// row snapshot is single-flighted across concurrent callers for the
// same bundle, and per-session planning then runs independently so
// one slow session's rule chain can't hold up the others.
type BroadcastCoordinator struct {
	planner *RowTransitionPlanner

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]RowSnapshotBundle
}

// NewBroadcastCoordinator builds a coordinator driven by planner.
func NewBroadcastCoordinator(planner *RowTransitionPlanner) *BroadcastCoordinator {
	return &BroadcastCoordinator{
		planner: planner,
		cache:   make(map[string]RowSnapshotBundle),
	}
}

// BeforeBroadcast loads (or returns the already-loaded) snapshot for
// bundleID, single-flighting concurrent calls for the same bundle down
// to one invocation of build. Call this once per bundle before fanning
// out to FilterOutgoingDocActions, and call AfterBroadcast once every
// recipient has been served to release the memoized snapshot.
func (b *BroadcastCoordinator) BeforeBroadcast(ctx context.Context, bundleID string, build SnapshotBuilder) (RowSnapshotBundle, error) {
	b.mu.Lock()
	if cached, ok := b.cache[bundleID]; ok {
		b.mu.Unlock()
		return cached, nil
	}
	b.mu.Unlock()

	v, err, _ := b.group.Do(bundleID, func() (any, error) {
		b.mu.Lock()
		cached, ok := b.cache[bundleID]
		b.mu.Unlock()
		if ok {
			return cached, nil
		}
		snap, err := build(ctx)
		if err != nil {
			return RowSnapshotBundle{}, err
		}
		b.mu.Lock()
		b.cache[bundleID] = snap
		b.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return RowSnapshotBundle{}, fmt.Errorf("aclengine: building broadcast snapshot: %w", err)
	}
	return v.(RowSnapshotBundle), nil
}

// AfterBroadcast releases the memoized snapshot for bundleID. It is
// safe to call even if BeforeBroadcast was never called for this id.
func (b *BroadcastCoordinator) AfterBroadcast(bundleID string) {
	b.mu.Lock()
	delete(b.cache, bundleID)
	b.mu.Unlock()
	b.group.Forget(bundleID)
}

// FilterOutgoingDocActions returns the DocActions each of sessions
// should receive given the bundle previously loaded by BeforeBroadcast,
// planning every session concurrently. A bundle can span several
// tables at once (each mutation carries its own table), so unlike the
// single-table predecessor of this method there is no table parameter.
func (b *BroadcastCoordinator) FilterOutgoingDocActions(ctx context.Context, sessions []Session, bundleID string) (map[Session][]DocAction, error) {
	b.mu.Lock()
	snap, ok := b.cache[bundleID]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("aclengine: no snapshot loaded for bundle %q, call BeforeBroadcast first", bundleID)
	}

	type result struct {
		session Session
		actions []DocAction
		err     error
	}

	results := make(chan result, len(sessions))
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s Session) {
			defer wg.Done()
			actions, err := b.planner.PlanBundle(ctx, s, snap)
			results <- result{session: s, actions: actions, err: err}
		}(s)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[Session][]DocAction, len(sessions))
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		if len(r.actions) > 0 {
			out[r.session] = r.actions
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
