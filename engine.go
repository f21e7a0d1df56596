package aclengine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithEngineMetrics attaches Prometheus metrics to every component the
// Engine wires together.
func WithEngineMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger attaches a structured logger. The zero logr.Logger
// discards everything, so omitting this option is safe.
func WithLogger(l logr.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithCacheTTL sets the table-permission cache's entry lifetime.
func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) { e.cacheTTL = ttl }
}

// Engine wires the RuleStore, Evaluator, MetadataCensor,
// RowTransitionPlanner, and BroadcastCoordinator into the single
// surface a document server actually calls.
type Engine struct {
	store    *RuleStore
	eval     *Evaluator
	censor   *MetadataCensor
	planner  *RowTransitionPlanner
	bcast    *BroadcastCoordinator
	log      logr.Logger
	metrics  *Metrics
	cacheTTL time.Duration

	cron *cron.Cron
}

// NewEngine builds an Engine. resolver and fetcher are the
// SessionResolver and StoreFetcher collaborators the document server
// provides; the engine never constructs them itself.
func NewEngine(resolver SessionResolver, fetcher StoreFetcher, opts ...EngineOption) *Engine {
	e := &Engine{
		store: NewRuleStore(),
		log:   logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}

	cacheOpts := []CacheOption{}
	if e.cacheTTL > 0 {
		cacheOpts = append(cacheOpts, WithTTL(e.cacheTTL))
	}
	cache := NewMemoCache(cacheOpts...)

	e.eval = NewEvaluator(e.store, resolver, fetcher, WithCache(cache), WithMetrics(e.metrics), WithEvaluatorLogger(e.log))
	e.censor = NewMetadataCensor(e.eval)
	e.planner = NewRowTransitionPlanner(e.eval, e.censor)
	e.bcast = NewBroadcastCoordinator(e.planner)
	return e
}

// UpdateRules atomically replaces the compiled rule sets and
// user-attribute rules. Every already-memoized table verdict becomes
// unreachable the moment this returns, since the cache key folds in
// the rule store's generation counter.
func (e *Engine) UpdateRules(ruleSets []RuleSet, attrRules []UserAttributeRule) error {
	if err := e.store.Update(ruleSets, attrRules); err != nil {
		return err
	}
	e.log.Info("rules updated", "version", e.store.Version(), "tables", len(ruleSets))
	return nil
}

// HasTableAccess reports session's table-wide permission verdict.
func (e *Engine) HasTableAccess(ctx context.Context, session Session, table TableID) (TablePermissionSet, error) {
	ctx, end := startSpan(ctx, "HasTableAccess", session, table)
	verdict, err := e.eval.TableAccess(ctx, session, table)
	end(err)
	return verdict, err
}

// CanReadEverything reports whether session has full, unrestricted
// read access to the entire document: the doc-default's own Read bit
// resolves to a clean Allow, and no user-authored rule set exists at
// all (RuleStore.AnyUserRules: a user doc-default rule, a table
// default or a column-scoped set). FilterMetaTables and (by construction of the planner's
// own Allow fast path) FilterOutgoingDocActions both become the
// identity transform exactly when this holds.
func (e *Engine) CanReadEverything(ctx context.Context, session Session) (bool, error) {
	verdict, err := e.eval.TableAccess(ctx, session, AllTables)
	if err != nil {
		return false, err
	}
	return verdict.Read() == Allow && !e.store.AnyUserRules(), nil
}

// HasFullAccess reports whether session has owner-level access to the
// entire document: its resolved role is owners and every permission
// bit of the doc-wide verdict, not merely Read, resolves to a clean
// Allow. Table- and column-scoped rule sets are not consulted.
func (e *Engine) HasFullAccess(ctx context.Context, session Session) (bool, error) {
	user, err := e.eval.resolver.ResolveSession(ctx, session)
	if err != nil {
		return false, err
	}
	if user.Access != RoleOwners {
		return false, nil
	}
	verdict, err := e.eval.TableAccess(ctx, session, AllTables)
	if err != nil {
		return false, err
	}
	for bit := PermBit(0); bit < numBits; bit++ {
		if verdict[bit] != Allow {
			return false, nil
		}
	}
	return true, nil
}

// HasViewAccess reports whether session can see any part of the
// document at all.
func (e *Engine) HasViewAccess(ctx context.Context, session Session) (bool, error) {
	verdict, err := e.eval.TableAccess(ctx, session, AllTables)
	if err != nil {
		return false, err
	}
	return verdict.Read() != Deny && verdict.Read() != Unset, nil
}

// HasNuancedAccess reports whether session's access is real but falls
// short of full owner-level access, in a document that has at least
// one user-authored rule set. A viewer or editor in a document with no
// custom rules at all has plain, non-nuanced access; the same role in
// a document where someone wrote column- or row-scoped rules has
// nuanced access, since what they can see or do may vary by row.
func (e *Engine) HasNuancedAccess(ctx context.Context, session Session) (bool, error) {
	full, err := e.HasFullAccess(ctx, session)
	if err != nil {
		return false, err
	}
	if full {
		return false, nil
	}
	view, err := e.HasViewAccess(ctx, session)
	if err != nil {
		return false, err
	}
	if !view {
		return false, nil
	}
	return e.store.AnyUserRules(), nil
}

// HasQueryAccess reports whether session may issue query at all: the
// queried table must be at least partially readable, and if query
// names specific columns, every one of them must resolve to something
// other than an outright Deny.
func (e *Engine) HasQueryAccess(ctx context.Context, session Session, query Query) (bool, error) {
	verdict, err := e.eval.TableAccess(ctx, session, query.Table)
	if err != nil {
		return false, err
	}
	if verdict.Read() == Deny || verdict.Read() == Unset {
		return false, nil
	}
	for _, col := range query.Columns {
		v, err := e.eval.ColumnRead(ctx, session, query.Table, col, nil, nil)
		if err != nil {
			return false, err
		}
		if v == Deny || v == Unset {
			return false, nil
		}
	}
	return true, nil
}

// UserActionVerb names one kind of user action a document server asks
// the engine to authorize before applying it.
type UserActionVerb string

const (
	VerbCalculate UserActionVerb = "Calculate"

	VerbAddRecord        UserActionVerb = "AddRecord"
	VerbBulkAddRecord    UserActionVerb = "BulkAddRecord"
	VerbUpdateRecord     UserActionVerb = "UpdateRecord"
	VerbBulkUpdateRecord UserActionVerb = "BulkUpdateRecord"
	VerbRemoveRecord     UserActionVerb = "RemoveRecord"
	VerbBulkRemoveRecord UserActionVerb = "BulkRemoveRecord"

	VerbAddColumn    UserActionVerb = "AddColumn"
	VerbRemoveColumn UserActionVerb = "RemoveColumn"
	VerbRenameColumn UserActionVerb = "RenameColumn"
	VerbModifyColumn UserActionVerb = "ModifyColumn"
	VerbAddTable     UserActionVerb = "AddTable"
	VerbRemoveTable  UserActionVerb = "RemoveTable"

	VerbAddACLRule    UserActionVerb = "AddACLRule"
	VerbUpdateACLRule UserActionVerb = "UpdateACLRule"
	VerbRemoveACLRule UserActionVerb = "RemoveACLRule"

	VerbApplyUndoActions UserActionVerb = "ApplyUndoActions"
	VerbApplyDocActions  UserActionVerb = "ApplyDocActions"
)

var alwaysOkVerbs = map[UserActionVerb]bool{
	VerbCalculate: true,
}

var schemaAndFormulaVerbs = map[UserActionVerb]bool{
	VerbAddColumn:    true,
	VerbRemoveColumn: true,
	VerbRenameColumn: true,
	VerbModifyColumn: true,
	VerbAddTable:     true,
	VerbRemoveTable:  true,
}

var surprisingVerbs = map[UserActionVerb]bool{
	VerbAddACLRule:    true,
	VerbUpdateACLRule: true,
	VerbRemoveACLRule: true,
}

var tableScopedRecordVerbs = map[UserActionVerb]bool{
	VerbAddRecord:        true,
	VerbBulkAddRecord:    true,
	VerbUpdateRecord:     true,
	VerbBulkUpdateRecord: true,
	VerbRemoveRecord:     true,
	VerbBulkRemoveRecord: true,
}

var wrappedVerbs = map[UserActionVerb]bool{
	VerbApplyUndoActions: true,
	VerbApplyDocActions:  true,
}

// systemReservedTables names the metadata tables a record-shaped
// action must never touch directly unless the session has full,
// non-nuanced access: editing these by schema verbs (AddColumn,
// RemoveTable, ...) or ACL verbs is fine, but poking their rows via a
// plain [Bulk]{Add,Update,Remove}Record would let an editor rewrite
// column types or view wiring without going through the schema path
// this policy otherwise gates.
var systemReservedTables = map[TableID]bool{
	"_grist_Tables":              true,
	"_grist_Tables_column":       true,
	"_grist_Views":               true,
	"_grist_Views_section":       true,
	"_grist_Views_section_field": true,
	"_grist_ACLRules":            true,
	"_grist_ACLResources":        true,
}

// IsSystemReservedTable reports whether table is one of the document's
// own metadata tables.
func IsSystemReservedTable(table TableID) bool {
	return systemReservedTables[table]
}

// UserAction is one action a document server asks the engine to
// authorize. Table and Columns apply to schema verbs; Table and Rows
// apply to record verbs (Rows carries the before/after row images,
// possibly many rows for a Bulk* verb); Wrapped applies to
// ApplyUndoActions/ApplyDocActions, which authorize only if every
// action they carry does.
type UserAction struct {
	Verb    UserActionVerb
	Table   TableID
	Columns []ColID
	Rows    *RowSnapshot
	Wrapped []UserAction
}

// CanApplyUserAction reports whether session may apply action.
func (e *Engine) CanApplyUserAction(ctx context.Context, session Session, action UserAction) (bool, error) {
	ctx, end := startSpan(ctx, "CanApplyUserAction", session, action.Table)
	ok, err := e.canApplyUserAction(ctx, session, action)
	end(err)
	return ok, err
}

// CanApplyUserActions reports whether session may apply every one of
// actions; it stops at the first disallowed or erroring action.
func (e *Engine) CanApplyUserActions(ctx context.Context, session Session, actions []UserAction) (bool, error) {
	for _, a := range actions {
		ok, err := e.CanApplyUserAction(ctx, session, a)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) canApplyUserAction(ctx context.Context, session Session, action UserAction) (bool, error) {
	switch {
	case alwaysOkVerbs[action.Verb]:
		return true, nil

	case schemaAndFormulaVerbs[action.Verb], surprisingVerbs[action.Verb]:
		return e.HasFullAccess(ctx, session)

	case tableScopedRecordVerbs[action.Verb]:
		return e.tableScopedRecordAllowed(ctx, session, action)

	case wrappedVerbs[action.Verb]:
		for _, inner := range action.Wrapped {
			ok, err := e.canApplyUserAction(ctx, session, inner)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	default:
		return false, nil
	}
}

// tableScopedRecordAllowed authorizes a plain Add/Update/RemoveRecord
// (or its Bulk form). A record action against one of the document's
// own metadata tables always requires full access, bypassing the
// schema path entirely would otherwise allow. Against an ordinary data
// table, every row referenced by the action must individually resolve
// to a clean (non-mixed) read and the matching create/update/delete
// bit must be at least partially allowed: a row whose very visibility
// is ambiguous (Mixed/MixedColumns) is never safe to write through,
// even if the targeted bit itself happened to evaluate cleanly.
func (e *Engine) tableScopedRecordAllowed(ctx context.Context, session Session, action UserAction) (bool, error) {
	if IsSystemReservedTable(action.Table) {
		return e.HasFullAccess(ctx, session)
	}
	if action.Rows == nil {
		return false, fmt.Errorf("aclengine: %s requires row data", action.Verb)
	}

	ids := unionRowIDs(*action.Rows)
	if len(ids) == 0 {
		return false, nil
	}
	for _, id := range ids {
		before, after := rowAt(*action.Rows, id)
		mixed, err := e.eval.RowAccess(ctx, session, action.Table, before, after)
		if err != nil {
			return false, err
		}
		if mixed.Read() == Mixed || mixed.Read() == MixedColumns {
			return false, nil
		}
		var v PermValue
		switch action.Verb {
		case VerbAddRecord, VerbBulkAddRecord:
			v = mixed.Create()
		case VerbUpdateRecord, VerbBulkUpdateRecord:
			v = mixed.Update()
		case VerbRemoveRecord, VerbBulkRemoveRecord:
			v = mixed.Delete()
		}
		if v != Allow && v != AllowSome {
			return false, nil
		}
	}
	return true, nil
}

// FilterMetaTables delegates to the MetadataCensor.
func (e *Engine) FilterMetaTables(ctx context.Context, session Session, tables MetaTables) (MetaTables, error) {
	return e.censor.FilterMetaTables(ctx, session, tables)
}

// FilterData delegates to the MetadataCensor.
func (e *Engine) FilterData(ctx context.Context, session Session, table TableID, data *TableData) (*TableData, error) {
	return e.censor.FilterData(ctx, session, table, data)
}

// BeforeBroadcast delegates to the BroadcastCoordinator.
func (e *Engine) BeforeBroadcast(ctx context.Context, bundleID string, build SnapshotBuilder) (RowSnapshotBundle, error) {
	return e.bcast.BeforeBroadcast(ctx, bundleID, build)
}

// AfterBroadcast delegates to the BroadcastCoordinator.
func (e *Engine) AfterBroadcast(bundleID string) {
	e.bcast.AfterBroadcast(bundleID)
}

// FilterOutgoingDocActions delegates to the BroadcastCoordinator and
// records the fan-out size. Per Invariant 1 this is the identity
// transform for any session CanReadEverything reports true for: every
// mutation's table then resolves Allow in the planner's own fast path,
// so nothing is pruned, synthesized, or censored.
func (e *Engine) FilterOutgoingDocActions(ctx context.Context, sessions []Session, bundleID string) (map[Session][]DocAction, error) {
	out, err := e.bcast.FilterOutgoingDocActions(ctx, sessions, bundleID)
	e.metrics.observeBroadcastFanout(len(sessions))
	return out, err
}

// ForgetSession drops session's memoized verdicts, for use on
// disconnect or role change.
func (e *Engine) ForgetSession(session Session) {
	e.eval.Forget(session)
}

// StartSweep starts a background job on cronExpr (robfig/cron's
// standard 5-field syntax) that evicts expired cache entries. It
// returns a stop function; calling it is the caller's responsibility
// at shutdown.
func (e *Engine) StartSweep(cronExpr string) (stop func(), err error) {
	c := cron.New()
	_, err = c.AddFunc(cronExpr, func() {
		mc, ok := e.eval.cache.(*MemoCache)
		if !ok {
			return
		}
		n := mc.Sweep(time.Now())
		if n > 0 {
			e.metrics.observeSweepEvicted(n)
			e.log.V(1).Info("swept cache", "evicted", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("aclengine: scheduling sweep: %w", err)
	}
	c.Start()
	e.cron = c
	return func() { c.Stop() }, nil
}
