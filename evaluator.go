package aclengine

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
)

// EvaluatorOption configures an Evaluator at construction time.
type EvaluatorOption func(*Evaluator)

// WithCache overrides the default MemoCache, e.g. to share one cache
// across several Evaluators or to disable memoization entirely with a
// no-op implementation.
func WithCache(c Cache) EvaluatorOption {
	return func(e *Evaluator) { e.cache = c }
}

// WithMetrics attaches a Metrics instance the Evaluator updates as it
// runs. Omitting this option leaves metrics collection disabled.
func WithMetrics(m *Metrics) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = m }
}

// WithEvaluatorLogger attaches the logger evalChain uses to report a
// rule predicate that failed for a reason other than ErrNeedsRow.
// Omitting this option leaves such failures silently swallowed (the
// rule is treated as non-matching either way, but a misbehaving rule
// is otherwise invisible).
func WithEvaluatorLogger(log logr.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.log = log }
}

// Evaluator answers table- and row-level permission questions for a
// session against the rules currently held by a RuleStore. It is safe
// for concurrent use: table verdicts are memoized per (session, table,
// rule generation) and row verdicts are computed fresh every call,
// since memoizing per-row would defeat the point of a bounded cache.
type Evaluator struct {
	store    *RuleStore
	resolver SessionResolver
	attrs    *UserAttributeResolver
	cache    Cache
	metrics  *Metrics
	log      logr.Logger
}

// NewEvaluator builds an Evaluator. fetcher supplies characteristic
// rows for user-attribute binding; pass nil if the rule set defines no
// UserAttributeRule.
func NewEvaluator(store *RuleStore, resolver SessionResolver, fetcher StoreFetcher, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		store:    store,
		resolver: resolver,
		attrs:    NewUserAttributeResolver(store, fetcher),
		cache:    NewMemoCache(),
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// resolveUser resolves the session and binds its attributes, the
// shared first step of TableAccess, RowAccess and ColumnRead.
func (e *Evaluator) resolveUser(ctx context.Context, session Session) (*UserInfo, error) {
	user, err := e.resolver.ResolveSession(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("aclengine: resolving session: %w", err)
	}
	if err := e.attrs.Resolve(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// TableAccess returns the table-wide permission verdict for session
// against table, consulting and populating the memo cache.
func (e *Evaluator) TableAccess(ctx context.Context, session Session, table TableID) (TablePermissionSet, error) {
	if d := DecisionFromContext(ctx); d != DecisionUnset {
		return overrideTableVerdict(d), nil
	}

	version := e.store.Version()
	key := cacheKey{Session: session, Table: table, RuleVersion: version}
	if v, ok := e.cache.Get(key); ok {
		e.metrics.observeCacheHit(true)
		return v, nil
	}
	e.metrics.observeCacheHit(false)

	user, err := e.resolveUser(ctx, session)
	if err != nil {
		return TablePermissionSet{}, err
	}

	mixed, err := e.evaluateTable(user, table, nil, nil)
	if err != nil {
		return TablePermissionSet{}, err
	}
	verdict := FoldTable(mixed)
	for bit := PermBit(0); bit < numBits; bit++ {
		e.metrics.observeEvaluation(bit, verdict[bit])
	}
	e.cache.Set(key, verdict)
	return verdict, nil
}

// RowAccess returns the row-scoped partial verdict for session against
// one row of table, given its current values (newRec) and, for update
// evaluation, its prior values (oldRec). Row verdicts are never
// memoized. When the table has column-scoped rule sets, the Read bit
// is the FoldColumnRead of the row's baseline Read and each column
// set's Read, so it can be MixedColumns or Mixed even for a visible
// row; per-column readability for filtering output is ColumnRead's
// job.
func (e *Evaluator) RowAccess(ctx context.Context, session Session, table TableID, oldRec, newRec RecordView) (MixedPermissionSet, error) {
	if d := DecisionFromContext(ctx); d != DecisionUnset {
		return MixedPermissionSet(overrideTableVerdict(d)), nil
	}

	user, err := e.resolveUser(ctx, session)
	if err != nil {
		return MixedPermissionSet{}, err
	}
	return e.evaluateTable(user, table, oldRec, newRec)
}

// ColumnRead returns the Read-bit verdict for one specific column of
// one row (or, with oldRec/newRec both nil, the table-wide column
// verdict), layering the column's own rule set (if any) over the
// table default and doc default, most-specific wins.
func (e *Evaluator) ColumnRead(ctx context.Context, session Session, table TableID, col ColID, oldRec, newRec RecordView) (PermValue, error) {
	user, err := e.resolveUser(ctx, session)
	if err != nil {
		return Unset, err
	}
	evalCtx := &EvalContext{User: user, Table: table, OldRec: oldRec, NewRec: newRec}
	mixed, err := e.evaluateChainsUpTo(evalCtx, table, col)
	if err != nil {
		return Unset, err
	}
	return mixed.Read(), nil
}

// evaluateTable runs the doc-default chain, then the table-default
// chain, then folds every column-scoped chain's Read bit together via
// FoldColumnRead so the table-wide Read verdict correctly reports
// MixedColumns/Mixed when column-scoped rule sets disagree.
func (e *Evaluator) evaluateTable(user *UserInfo, table TableID, oldRec, newRec RecordView) (MixedPermissionSet, error) {
	evalCtx := &EvalContext{User: user, Table: table, OldRec: oldRec, NewRec: newRec}

	baseline, err := e.evaluateBaseline(evalCtx, table)
	if err != nil {
		return MixedPermissionSet{}, err
	}

	columnSets := e.store.AllColumnRuleSets(table)
	if len(columnSets) == 0 {
		return baseline, nil
	}

	readVerdicts := make([]PermValue, 0, len(columnSets)+1)
	readVerdicts = append(readVerdicts, baseline.Read())
	for _, cs := range columnSets {
		partial, err := evalChain(cs, evalCtx, e.log)
		if err != nil {
			return MixedPermissionSet{}, err
		}
		merged := Merge(baseline, partial)
		readVerdicts = append(readVerdicts, merged.Read())
	}
	out := baseline
	out[BitRead] = FoldColumnRead(readVerdicts)
	return out, nil
}

// evaluateBaseline merges the doc-default chain and the table-default
// chain, most specific (table) over least specific (doc), without
// considering any column-scoped rule set.
func (e *Evaluator) evaluateBaseline(evalCtx *EvalContext, table TableID) (MixedPermissionSet, error) {
	var mixed MixedPermissionSet
	if doc := e.store.DocDefaultRuleSet(); doc != nil {
		partial, err := evalChain(doc, evalCtx, e.log)
		if err != nil {
			return MixedPermissionSet{}, err
		}
		mixed = ToMixed(partial)
	}
	if def := e.store.TableDefaultRuleSet(table); def != nil {
		partial, err := evalChain(def, evalCtx, e.log)
		if err != nil {
			return MixedPermissionSet{}, err
		}
		mixed = Merge(mixed, partial)
	}
	return mixed, nil
}

// evaluateChainsUpTo layers the column rule set covering col (if any)
// over the table/doc baseline, for a single column's verdict.
func (e *Evaluator) evaluateChainsUpTo(evalCtx *EvalContext, table TableID, col ColID) (MixedPermissionSet, error) {
	baseline, err := e.evaluateBaseline(evalCtx, table)
	if err != nil {
		return MixedPermissionSet{}, err
	}
	cs := e.store.ColumnRuleSet(table, col)
	if cs == nil {
		return baseline, nil
	}
	partial, err := evalChain(cs, evalCtx, e.log)
	if err != nil {
		return MixedPermissionSet{}, err
	}
	return Merge(baseline, partial), nil
}

// evalChain runs rules in priority order. Within one chain, the first
// rule whose predicate matches decides a given bit; later rules in the
// same chain only fill in bits still Unset. A predicate raising
// ErrNeedsRow is treated as a match whose granted bits are weakened to
// their partial-evidence counterpart (Allow -> AllowSome, Deny ->
// DenySome), since the rule's real verdict depends on a row this
// evaluation never bound. Any other predicate error is logged and the
// rule is treated as not matching: a single malformed or panicking
// rule must never abort evaluation for every other rule in the chain,
// let alone the whole broadcast.
func evalChain(rs *RuleSet, ctx *EvalContext, log logr.Logger) (PartialPermissionSet, error) {
	result := Empty()
	remaining := numBits
	for _, rule := range rs.Rules {
		if remaining == 0 {
			break
		}
		matched, err := rule.Predicate(ctx)
		weaken := false
		if err != nil {
			if !IsNeedsRow(err) {
				log.V(1).Info("rule predicate failed, treating as non-match",
					"rule", rule.Source, "error", err.Error())
				continue
			}
			matched = true
			weaken = true
		}
		if !matched {
			continue
		}
		for bit := PermBit(0); bit < numBits; bit++ {
			if result[bit] != Unset {
				continue
			}
			v := rule.Permissions[bit]
			if v == Unset {
				continue
			}
			if weaken {
				v = Weaken(v)
			}
			result[bit] = v
			remaining--
		}
	}
	for bit := PermBit(0); bit < numBits; bit++ {
		if result[bit] == Unset && rs.Default[bit] != Unset {
			result[bit] = rs.Default[bit]
		}
	}
	return result, nil
}

// overrideTableVerdict builds the uniform verdict a Decision override
// forces across every bit.
func overrideTableVerdict(d Decision) TablePermissionSet {
	v := Deny
	if d == DecisionAllow {
		v = Allow
	}
	var out TablePermissionSet
	for i := range out {
		out[i] = v
	}
	return out
}

// Forget drops every memoized table verdict for session. Callers
// invoke this when a session disconnects or its role changes so stale
// verdicts can't leak past a permission change that the rule-version
// bump wouldn't otherwise catch (e.g. a SessionResolver-side role
// change with no RuleStore update).
func (e *Evaluator) Forget(session Session) {
	e.cache.Forget(session)
}
