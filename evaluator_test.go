package aclengine_test

import (
	"context"
	"testing"

	"github.com/sheetguard/aclengine"
)

type fakeResolver struct {
	users map[aclengine.Session]*aclengine.UserInfo
}

func (f *fakeResolver) ResolveSession(ctx context.Context, session aclengine.Session) (*aclengine.UserInfo, error) {
	u, ok := f.users[session]
	if !ok {
		return &aclengine.UserInfo{Access: aclengine.RoleNone}, nil
	}
	cp := *u
	return &cp, nil
}

type noopFetcher struct{}

func (noopFetcher) FetchCharacteristicRow(ctx context.Context, table aclengine.TableID, lookupCol aclengine.ColID, key any) (aclengine.RecordView, error) {
	return aclengine.EmptyRecordView{}, nil
}

func ownerPredicate(ctx *aclengine.EvalContext) (bool, error) {
	return ctx.User.Access == aclengine.RoleOwners, nil
}

func everyonePredicate(ctx *aclengine.EvalContext) (bool, error) {
	return true, nil
}

func newTestEngine(t *testing.T, resolver *fakeResolver) (*aclengine.RuleStore, *aclengine.Evaluator) {
	t.Helper()
	store := aclengine.NewRuleStore()
	eval := aclengine.NewEvaluator(store, resolver, noopFetcher{})
	return store, eval
}

func TestTableAccessDeniesWithNoRulesAndNoRole(t *testing.T) {
	resolver := &fakeResolver{users: map[aclengine.Session]*aclengine.UserInfo{
		"s1": {Access: aclengine.RoleNone},
	}}
	_, eval := newTestEngine(t, resolver)

	verdict, err := eval.TableAccess(context.Background(), "s1", "orders")
	if err != nil {
		t.Fatalf("TableAccess: %v", err)
	}
	if verdict.Read() != aclengine.Deny {
		t.Errorf("Read() = %v, want Deny (closed-world default, no role and no rules)", verdict.Read())
	}
}

func TestTableAccessViewerGetsBuiltinReadOnly(t *testing.T) {
	resolver := &fakeResolver{users: map[aclengine.Session]*aclengine.UserInfo{
		"s1": {Access: aclengine.RoleViewers},
	}}
	_, eval := newTestEngine(t, resolver)

	verdict, err := eval.TableAccess(context.Background(), "s1", "orders")
	if err != nil {
		t.Fatalf("TableAccess: %v", err)
	}
	if verdict.Read() != aclengine.Allow {
		t.Errorf("Read() = %v, want Allow from the built-in viewer default even with no manifest rules loaded", verdict.Read())
	}
	if verdict.Update() != aclengine.Deny {
		t.Errorf("Update() = %v, want Deny, viewers only get read access by default", verdict.Update())
	}
}

func TestTableAccessOwnerAllowedByRule(t *testing.T) {
	resolver := &fakeResolver{users: map[aclengine.Session]*aclengine.UserInfo{
		"s1": {Access: aclengine.RoleOwners},
	}}
	store, eval := newTestEngine(t, resolver)

	rule := aclengine.Rule{
		Source:      "role:owners",
		Predicate:   ownerPredicate,
		Permissions: aclengine.Empty().WithBit(aclengine.BitRead, aclengine.Allow).WithBit(aclengine.BitUpdate, aclengine.Allow),
	}
	if err := store.Update([]aclengine.RuleSet{aclengine.TableRuleSet("orders", rule)}, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	verdict, err := eval.TableAccess(context.Background(), "s1", "orders")
	if err != nil {
		t.Fatalf("TableAccess: %v", err)
	}
	if verdict.Read() != aclengine.Allow {
		t.Errorf("Read() = %v, want Allow for an owner", verdict.Read())
	}
	if verdict.Delete() != aclengine.Allow {
		t.Errorf("Delete() = %v, want Allow: the table rule leaves Delete unset, so the built-in owner default decides it", verdict.Delete())
	}
}

func TestTableAccessCachesUntilRuleVersionBumps(t *testing.T) {
	resolver := &fakeResolver{users: map[aclengine.Session]*aclengine.UserInfo{
		"s1": {Access: aclengine.RoleNone},
	}}
	store, eval := newTestEngine(t, resolver)
	ctx := context.Background()

	first, err := eval.TableAccess(ctx, "s1", "orders")
	if err != nil {
		t.Fatalf("TableAccess: %v", err)
	}
	if first.Read() != aclengine.Deny {
		t.Fatalf("Read() = %v, want Deny before any rules load", first.Read())
	}

	rule := aclengine.Rule{
		Source:      "always",
		Predicate:   everyonePredicate,
		Permissions: aclengine.Empty().WithBit(aclengine.BitRead, aclengine.Allow),
	}
	if err := store.Update([]aclengine.RuleSet{aclengine.TableRuleSet("orders", rule)}, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	second, err := eval.TableAccess(ctx, "s1", "orders")
	if err != nil {
		t.Fatalf("TableAccess: %v", err)
	}
	if second.Read() != aclengine.Allow {
		t.Errorf("Read() = %v, want Allow after Update bumps the rule version and invalidates the cache", second.Read())
	}
}

func TestTableAccessDecisionOverrideBypassesRules(t *testing.T) {
	resolver := &fakeResolver{users: map[aclengine.Session]*aclengine.UserInfo{
		"s1": {Access: aclengine.RoleNone},
	}}
	_, eval := newTestEngine(t, resolver)

	ctx := aclengine.WithDecision(context.Background(), aclengine.DecisionAllow)
	verdict, err := eval.TableAccess(ctx, "s1", "orders")
	if err != nil {
		t.Fatalf("TableAccess: %v", err)
	}
	if verdict.Read() != aclengine.Allow {
		t.Errorf("Read() = %v, want Allow, DecisionAllow overrides rule evaluation entirely", verdict.Read())
	}
}

func TestEvaluatorForgetDropsCachedVerdict(t *testing.T) {
	resolver := &fakeResolver{users: map[aclengine.Session]*aclengine.UserInfo{
		"s1": {Access: aclengine.RoleOwners},
	}}
	store, eval := newTestEngine(t, resolver)
	ctx := context.Background()

	rule := aclengine.Rule{
		Source:      "role:owners",
		Predicate:   ownerPredicate,
		Permissions: aclengine.Empty().WithBit(aclengine.BitRead, aclengine.Allow),
	}
	if err := store.Update([]aclengine.RuleSet{aclengine.TableRuleSet("orders", rule)}, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := eval.TableAccess(ctx, "s1", "orders"); err != nil {
		t.Fatalf("TableAccess: %v", err)
	}

	resolver.users["s1"] = &aclengine.UserInfo{Access: aclengine.RoleNone}
	eval.Forget("s1")

	verdict, err := eval.TableAccess(ctx, "s1", "orders")
	if err != nil {
		t.Fatalf("TableAccess: %v", err)
	}
	if verdict.Read() != aclengine.Deny {
		t.Errorf("Read() = %v, want Deny, Forget should have evicted the stale owner verdict", verdict.Read())
	}
}

func TestRowAccessAllowsOwnerByRule(t *testing.T) {
	resolver := &fakeResolver{users: map[aclengine.Session]*aclengine.UserInfo{
		"s1": {Access: aclengine.RoleOwners},
	}}
	store, eval := newTestEngine(t, resolver)
	ctx := context.Background()

	rule := aclengine.Rule{
		Source:      "role:owners",
		Predicate:   ownerPredicate,
		Permissions: aclengine.Empty().WithBit(aclengine.BitRead, aclengine.Allow),
	}
	if err := store.Update([]aclengine.RuleSet{aclengine.TableRuleSet("orders", rule)}, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rec := &aclengine.Record{RowID: 1, Values: map[aclengine.ColID]any{"status": "open"}}
	mixed, err := eval.RowAccess(ctx, "s1", "orders", nil, rec)
	if err != nil {
		t.Fatalf("RowAccess: %v", err)
	}
	if mixed.Read() != aclengine.Allow {
		t.Errorf("Read() = %v, want Allow", mixed.Read())
	}
}

// needsRowPredicate matches only when a row is actually bound, and
// signals ErrNeedsRow otherwise, the shape a rule like "owner ==
// rec.budget_owner" takes when asked for a table-wide verdict with no
// specific row in hand.
func needsRowPredicate(ctx *aclengine.EvalContext) (bool, error) {
	if ctx.OldRec == nil && ctx.NewRec == nil {
		return false, aclengine.ErrNeedsRow
	}
	return ctx.Rec().Get("owner") == ctx.User.Email, nil
}

func TestTableAccessNeedsRowFoldsToMixed(t *testing.T) {
	resolver := &fakeResolver{users: map[aclengine.Session]*aclengine.UserInfo{
		"s1": {Access: aclengine.RoleNone, Email: "a@example.com"},
	}}
	store, eval := newTestEngine(t, resolver)

	rule := aclengine.Rule{
		Source:      "col:owner=user:Email",
		Predicate:   needsRowPredicate,
		Permissions: aclengine.Empty().WithBit(aclengine.BitRead, aclengine.Allow),
	}
	if err := store.Update([]aclengine.RuleSet{aclengine.TableRuleSet("orders", rule)}, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	verdict, err := eval.TableAccess(context.Background(), "s1", "orders")
	if err != nil {
		t.Fatalf("TableAccess: %v", err)
	}
	if verdict.Read() != aclengine.Mixed {
		t.Errorf("Read() = %v, want Mixed: a table-wide check can't resolve a row-scoped rule", verdict.Read())
	}
}

func TestRowAccessNeedsRowResolvesWithRealRow(t *testing.T) {
	resolver := &fakeResolver{users: map[aclengine.Session]*aclengine.UserInfo{
		"s1": {Access: aclengine.RoleNone, Email: "a@example.com"},
	}}
	store, eval := newTestEngine(t, resolver)

	rule := aclengine.Rule{
		Source:      "col:owner=user:Email",
		Predicate:   needsRowPredicate,
		Permissions: aclengine.Empty().WithBit(aclengine.BitRead, aclengine.Allow),
	}
	if err := store.Update([]aclengine.RuleSet{aclengine.TableRuleSet("orders", rule)}, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	own := &aclengine.Record{RowID: 1, Values: map[aclengine.ColID]any{"owner": "a@example.com"}}
	mixed, err := eval.RowAccess(context.Background(), "s1", "orders", nil, own)
	if err != nil {
		t.Fatalf("RowAccess: %v", err)
	}
	if mixed.Read() != aclengine.Allow {
		t.Errorf("Read() = %v, want Allow, a real row was bound and matched", mixed.Read())
	}

	other := &aclengine.Record{RowID: 2, Values: map[aclengine.ColID]any{"owner": "b@example.com"}}
	mixed, err = eval.RowAccess(context.Background(), "s1", "orders", nil, other)
	if err != nil {
		t.Fatalf("RowAccess: %v", err)
	}
	if mixed.Read() != aclengine.Unset && mixed.Read() != aclengine.Deny {
		t.Errorf("Read() = %v, want Deny/Unset, the row belongs to someone else", mixed.Read())
	}
}

func TestTableAccessFoldsColumnScopedReadToMixedColumns(t *testing.T) {
	resolver := &fakeResolver{users: map[aclengine.Session]*aclengine.UserInfo{
		"s1": {Access: aclengine.RoleNone},
	}}
	store, eval := newTestEngine(t, resolver)

	tableDefault := aclengine.TableRuleSet("orders", aclengine.Rule{
		Source: "always", Predicate: everyonePredicate,
		Permissions: aclengine.Empty().WithBit(aclengine.BitRead, aclengine.Allow),
	})
	secretColumn := aclengine.ColumnRuleSetSpec("orders", []aclengine.ColID{"secret"}, aclengine.Rule{
		Source: "always", Predicate: everyonePredicate,
		Permissions: aclengine.Empty().WithBit(aclengine.BitRead, aclengine.Deny),
	})
	if err := store.Update([]aclengine.RuleSet{tableDefault, secretColumn}, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	verdict, err := eval.TableAccess(context.Background(), "s1", "orders")
	if err != nil {
		t.Fatalf("TableAccess: %v", err)
	}
	if verdict.Read() != aclengine.MixedColumns {
		t.Errorf("Read() = %v, want MixedColumns: one column is denied while the rest are allowed", verdict.Read())
	}

	secretVerdict, err := eval.ColumnRead(context.Background(), "s1", "orders", "secret", nil, nil)
	if err != nil {
		t.Fatalf("ColumnRead: %v", err)
	}
	if secretVerdict != aclengine.Deny {
		t.Errorf("ColumnRead(secret) = %v, want Deny", secretVerdict)
	}
	otherVerdict, err := eval.ColumnRead(context.Background(), "s1", "orders", "amount", nil, nil)
	if err != nil {
		t.Fatalf("ColumnRead: %v", err)
	}
	if otherVerdict != aclengine.Allow {
		t.Errorf("ColumnRead(amount) = %v, want Allow", otherVerdict)
	}
}
