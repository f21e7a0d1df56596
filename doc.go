// Package aclengine provides the granular access control engine for a
// collaborative spreadsheet-style document server: the compilation of
// user-authored access rules into an evaluable form, the lattice-valued
// permission algebra, the rule-evaluation cache, and the row-transition
// algorithm that rewrites outgoing mutations as a row's visibility
// changes.
//
// # Scope
//
// The engine decides, per session, whether an incoming mutation may be
// applied, filters outgoing mutation broadcasts so each recipient sees
// only data they are permitted to see, and censors document metadata
// (table, column, view names) accordingly. It does not parse rule
// source text into predicates (see RuleCompiler), does not persist
// documents, and does not authenticate sessions (see SessionResolver).
//
// # Basic usage
//
//	store := aclengine.NewRuleStore()
//	_ = store.Update(ruleSets, attrRules)
//
//	eval := aclengine.NewEvaluator(store, resolver, fetcher)
//	verdict, _ := eval.TableAccess(ctx, session, tableID)
//	if verdict.Read() == aclengine.Allow {
//	    // ...
//	}
//
// # Engine facade
//
// Most applications drive the engine through Engine, which wires the
// RuleStore, Evaluator, MetadataCensor, RowTransitionPlanner, and
// BroadcastCoordinator together and exposes a small surface for the
// document server to call: HasTableAccess, CanApplyUserAction,
// FilterOutgoingDocActions, BeforeBroadcast/AfterBroadcast, and the
// metadata filters.
package aclengine
