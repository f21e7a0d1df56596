package aclengine_test

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/sheetguard/aclengine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newBroadcastFixture(t *testing.T) *aclengine.BroadcastCoordinator {
	t.Helper()
	resolver := &fakeResolver{users: map[aclengine.Session]*aclengine.UserInfo{
		"s1": {Access: aclengine.RoleOwners},
		"s2": {Access: aclengine.RoleOwners},
	}}
	store := aclengine.NewRuleStore()
	eval := aclengine.NewEvaluator(store, resolver, noopFetcher{})
	censor := aclengine.NewMetadataCensor(eval)
	planner := aclengine.NewRowTransitionPlanner(eval, censor)

	rule := aclengine.Rule{
		Source:      "role:owners",
		Predicate:   ownerPredicate,
		Permissions: aclengine.Empty().WithBit(aclengine.BitRead, aclengine.Allow),
	}
	if err := store.Update([]aclengine.RuleSet{aclengine.TableRuleSet("orders", rule)}, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return aclengine.NewBroadcastCoordinator(planner)
}

func addBundle(bundleID string, id aclengine.RowID, rec *aclengine.Record) aclengine.RowSnapshotBundle {
	return aclengine.RowSnapshotBundle{
		BundleID: bundleID,
		Mutations: []aclengine.BundleMutation{
			{
				Action:   aclengine.DocAction{Kind: aclengine.ActionAddRecord, Table: "orders", RowIDs: []aclengine.RowID{id}},
				Snapshot: aclengine.RowSnapshot{After: &aclengine.TableData{Table: "orders", Rows: map[aclengine.RowID]*aclengine.Record{id: rec}}},
			},
		},
	}
}

func TestBeforeBroadcastSingleFlightsConcurrentBuilds(t *testing.T) {
	coord := newBroadcastFixture(t)
	bundleID := aclengine.NewBundleID()

	var calls int32
	var mu sync.Mutex
	build := func(ctx context.Context) (aclengine.RowSnapshotBundle, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		rec := &aclengine.Record{RowID: 1, Values: map[aclengine.ColID]any{"status": "open"}}
		return addBundle(bundleID, 1, rec), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := coord.BeforeBroadcast(context.Background(), bundleID, build); err != nil {
				t.Errorf("BeforeBroadcast: %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	n := calls
	mu.Unlock()
	if n != 1 {
		t.Errorf("build() ran %d times, want exactly 1 across concurrent callers", n)
	}

	coord.AfterBroadcast(bundleID)
}

func TestFilterOutgoingDocActionsRequiresPriorSnapshot(t *testing.T) {
	coord := newBroadcastFixture(t)
	_, err := coord.FilterOutgoingDocActions(context.Background(), []aclengine.Session{"s1"}, "never-loaded")
	if err == nil {
		t.Fatal("FilterOutgoingDocActions should error when BeforeBroadcast was never called for the bundle")
	}
}

func TestFilterOutgoingDocActionsFansOutPerSession(t *testing.T) {
	coord := newBroadcastFixture(t)
	bundleID := aclengine.NewBundleID()

	rec := &aclengine.Record{RowID: 1, Values: map[aclengine.ColID]any{"status": "open"}}
	build := func(ctx context.Context) (aclengine.RowSnapshotBundle, error) {
		return addBundle(bundleID, 1, rec), nil
	}
	if _, err := coord.BeforeBroadcast(context.Background(), bundleID, build); err != nil {
		t.Fatalf("BeforeBroadcast: %v", err)
	}
	defer coord.AfterBroadcast(bundleID)

	out, err := coord.FilterOutgoingDocActions(context.Background(), []aclengine.Session{"s1", "s2"}, bundleID)
	if err != nil {
		t.Fatalf("FilterOutgoingDocActions: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("FilterOutgoingDocActions() = %v, want actions planned for both sessions", out)
	}
	for _, sess := range []aclengine.Session{"s1", "s2"} {
		actions, ok := out[sess]
		if !ok || len(actions) != 1 || actions[0].Kind != aclengine.ActionAddRecord {
			t.Errorf("actions for %s = %v, want one AddRecord passed through", sess, actions)
		}
	}
}
