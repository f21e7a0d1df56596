package aclengine

import (
	"fmt"
	"sync/atomic"
)

// CompiledPredicate is the evaluable form an external RuleCompiler
// produces from one rule's source text. The store never parses rule
// text itself; it only holds what the compiler handed back. A
// predicate that needs a specific row to decide, but was evaluated
// with none bound, returns ErrNeedsRow rather than guessing.
type CompiledPredicate func(ctx *EvalContext) (bool, error)

// Rule is one compiled access rule: a predicate and the permission
// bits it grants or denies when the predicate matches.
type Rule struct {
	Source      string
	Predicate   CompiledPredicate
	Permissions PartialPermissionSet
	MemoKey     string
}

// RuleScope identifies what a RuleSet governs: a whole document
// (Table == AllTables, Columns == AllColumns), one table's default
// (Table == <name>, Columns == AllColumns), or a named group of
// columns within one table (Table == <name>, Columns == the group).
// The invariant Table == AllTables implies Columns == AllColumns is
// enforced by RuleStore.Update.
type RuleScope struct {
	Table   TableID
	Columns []ColID
}

// AllTables is the pseudo-table-id a RuleScope uses to mean "the
// whole document", matched only by the single doc-default RuleSet.
const AllTables TableID = "*"

// AllColumns is the pseudo-column-id a RuleScope uses to mean "every
// column of the table", used by doc-default and table-default scopes.
const AllColumns ColID = "*"

// IsDocScope reports whether s scopes a RuleSet to the whole document.
func (s RuleScope) IsDocScope() bool { return s.Table == AllTables }

// IsTableDefaultScope reports whether s scopes a RuleSet to one
// table's baseline, with no column group singled out.
func (s RuleScope) IsTableDefaultScope() bool {
	return s.Table != AllTables && len(s.Columns) == 1 && s.Columns[0] == AllColumns
}

// IsColumnScope reports whether s names a specific column group within
// one table.
func (s RuleScope) IsColumnScope() bool {
	return s.Table != AllTables && !s.IsTableDefaultScope()
}

// RuleSet is the ordered chain of rules governing one scope, most
// specific first. Default is merged in after the chain runs: it fills
// in whatever bits the chain left Unset, the same way a less-specific
// scope fills in what a more-specific one left open, so a RuleSet
// author can give its own scope a baseline without writing an
// always-matching rule for it.
type RuleSet struct {
	Scope   RuleScope
	Rules   []Rule
	Default PartialPermissionSet
}

// TableRuleSet builds a table-default RuleSet (scope (table, "*")).
func TableRuleSet(table TableID, rules ...Rule) RuleSet {
	return RuleSet{Scope: RuleScope{Table: table, Columns: []ColID{AllColumns}}, Rules: rules}
}

// ColumnRuleSetSpec builds a column-scoped RuleSet governing cols of
// table.
func ColumnRuleSetSpec(table TableID, cols []ColID, rules ...Rule) RuleSet {
	return RuleSet{Scope: RuleScope{Table: table, Columns: cols}, Rules: rules}
}

// DocRuleSet builds the doc-default RuleSet (scope ("*", "*")).
func DocRuleSet(rules ...Rule) RuleSet {
	return RuleSet{Scope: RuleScope{Table: AllTables, Columns: []ColID{AllColumns}}, Rules: rules}
}

// WithDefault returns a copy of rs with its Default baseline set.
func (rs RuleSet) WithDefault(d PartialPermissionSet) RuleSet {
	rs.Default = d
	return rs
}

// DefaultTable is kept as an alias of AllTables for callers migrating
// from the single-scope rule-set model.
const DefaultTable = AllTables

// UserAttributeRule describes one binding from a characteristic table
// row to a named attribute on UserInfo, evaluated in declaration
// order before any access rule runs. UserKey names the UserInfo field
// supplying the lookup value: "UserID", "Email", "Name", or
// "Attributes.<name>" to chain off an attribute bound by an earlier
// rule.
type UserAttributeRule struct {
	Name                string
	CharacteristicTable TableID
	LookupColumn        ColID
	UserKey             string
}

// columnSet is one compiled column-scoped RuleSet alongside the set of
// column ids it covers, for fast membership tests during lookup.
type columnSet struct {
	rs   *RuleSet
	cols map[ColID]bool
}

// ruleSnapshot is the immutable state RuleStore swaps atomically.
type ruleSnapshot struct {
	version       uint64
	docDefault    *RuleSet
	tableDefaults map[TableID]*RuleSet
	columnSets    map[TableID][]columnSet
	attrRules     []UserAttributeRule
}

// RuleStore holds the currently compiled access rules and exposes them
// for lock-free concurrent reads. Replacing the rule set (e.g. after a
// hot-reload) swaps in a new snapshot without blocking readers already
// in flight against the old one.
type RuleStore struct {
	current atomic.Pointer[ruleSnapshot]
}

// NewRuleStore returns a store holding only the built-in role rules
// (owners and editors get every bit, viewers get Read); a session with
// no such role is denied every table until Update is called.
func NewRuleStore() *RuleStore {
	s := &RuleStore{}
	s.current.Store(&ruleSnapshot{
		docDefault:    builtinDocDefault(nil),
		tableDefaults: map[TableID]*RuleSet{},
		columnSets:    map[TableID][]columnSet{},
	})
	return s
}

// Update atomically replaces the compiled rule sets and user-attribute
// rules. Callers are expected to have already run every rule's source
// through a RuleCompiler; RuleStore never compiles rule text itself.
//
// Update validates the scope invariants spec.md requires: at most one
// doc-default rule set is permitted (a second is a config error, not a
// silent override), at most one table-default rule set per table, any
// number of column-scoped rule sets, the scope invariant
// Table==AllTables => Columns==AllColumns, and no two user-attribute
// rules sharing a name (later binding would silently shadow earlier
// predicates that already reference it).
func (s *RuleStore) Update(ruleSets []RuleSet, attrRules []UserAttributeRule) error {
	var docDefault *RuleSet
	tableDefaults := make(map[TableID]*RuleSet)
	columnSets := make(map[TableID][]columnSet)

	for i := range ruleSets {
		rs := ruleSets[i]
		cp := rs
		switch {
		case cp.Scope.IsDocScope():
			if len(cp.Scope.Columns) != 1 || cp.Scope.Columns[0] != AllColumns {
				return NewValidationError(CodeInvalidScope,
					fmt.Sprintf("doc-default scope must cover all columns, got %v", cp.Scope.Columns), nil)
			}
			if docDefault != nil {
				return NewValidationError(CodeDuplicateDocDefault,
					"more than one doc-default rule set", nil)
			}
			docDefault = &cp
		case cp.Scope.IsTableDefaultScope():
			if _, dup := tableDefaults[cp.Scope.Table]; dup {
				return NewValidationError(CodeDuplicateTableDefault,
					fmt.Sprintf("more than one table-default rule set for table %q", cp.Scope.Table), nil)
			}
			tableDefaults[cp.Scope.Table] = &cp
		default:
			cols := make(map[ColID]bool, len(cp.Scope.Columns))
			for _, c := range cp.Scope.Columns {
				cols[c] = true
			}
			columnSets[cp.Scope.Table] = append(columnSets[cp.Scope.Table], columnSet{rs: &cp, cols: cols})
		}
	}

	seenAttr := make(map[string]bool, len(attrRules))
	for _, a := range attrRules {
		if seenAttr[a.Name] {
			return NewValidationError(CodeDuplicateAttributeName,
				fmt.Sprintf("duplicate user-attribute name %q", a.Name), nil)
		}
		seenAttr[a.Name] = true
	}

	prev := s.current.Load()
	next := &ruleSnapshot{
		version:       prev.version + 1,
		docDefault:    builtinDocDefault(docDefault),
		tableDefaults: tableDefaults,
		columnSets:    columnSets,
		attrRules:     append([]UserAttributeRule(nil), attrRules...),
	}
	s.current.Store(next)
	return nil
}

// builtinDocDefault returns the doc-default RuleSet actually used for
// evaluation: the caller-supplied one (or an empty one if none was
// given) with the built-in owner/editor/viewer rules appended after
// the caller's own rules. Appending last means the built-ins only ever
// fill in bits a user rule left Unset, in keeping with first-match
// wins within a chain: a user can fully override the built-in default
// for any role by writing a rule of their own for it.
func builtinDocDefault(user *RuleSet) *RuleSet {
	base := RuleSet{Scope: RuleScope{Table: AllTables, Columns: []ColID{AllColumns}}}
	if user != nil {
		base = *user
	}
	base.Rules = append(append([]Rule(nil), base.Rules...), builtinRoleRules()...)
	return &base
}

var allBitsAllow = func() PartialPermissionSet {
	var p PartialPermissionSet
	for b := PermBit(0); b < numBits; b++ {
		p[b] = Allow
	}
	return p
}()

// builtinRoleRules returns the synthetic rules spec.md's "Built-in
// defaults" section requires: owners and editors get every permission
// bit, viewers get read-only. These always exist even if the rule
// manifest defines no doc-default rule set at all.
func builtinRoleRules() []Rule {
	return []Rule{
		{
			Source:      "builtin:owners-full-access",
			Predicate:   func(ctx *EvalContext) (bool, error) { return ctx.User.Access == RoleOwners, nil },
			Permissions: allBitsAllow,
		},
		{
			Source:      "builtin:editors-full-access",
			Predicate:   func(ctx *EvalContext) (bool, error) { return ctx.User.Access == RoleEditors, nil },
			Permissions: allBitsAllow,
		},
		{
			Source:      "builtin:viewers-read-only",
			Predicate:   func(ctx *EvalContext) (bool, error) { return ctx.User.Access == RoleViewers, nil },
			Permissions: Empty().WithBit(BitRead, Allow),
		},
	}
}

// Version returns the monotonically increasing generation number of
// the currently active snapshot. Every successful Update bumps it by
// one; the evaluator's cache folds it into the cache key so a reload
// invalidates every memoized verdict without an explicit sweep.
func (s *RuleStore) Version() uint64 {
	return s.current.Load().version
}

// DocDefaultRuleSet returns the always-present doc-default rule set
// (including the built-in role rules appended at load time).
func (s *RuleStore) DocDefaultRuleSet() *RuleSet {
	return s.current.Load().docDefault
}

// TableDefaultRuleSet returns the table-default rule set registered
// for table, or nil if none was registered.
func (s *RuleStore) TableDefaultRuleSet(table TableID) *RuleSet {
	return s.current.Load().tableDefaults[table]
}

// ColumnRuleSet returns the column-scoped rule set covering col within
// table, or nil if no column-scoped rule set mentions it.
func (s *RuleStore) ColumnRuleSet(table TableID, col ColID) *RuleSet {
	for _, cs := range s.current.Load().columnSets[table] {
		if cs.cols[col] {
			return cs.rs
		}
	}
	return nil
}

// AllColumnRuleSets returns every column-scoped rule set registered
// for table, in registration order.
func (s *RuleStore) AllColumnRuleSets(table TableID) []*RuleSet {
	sets := s.current.Load().columnSets[table]
	out := make([]*RuleSet, 0, len(sets))
	for _, cs := range sets {
		out = append(out, cs.rs)
	}
	return out
}

// AttributeRules returns the currently active user-attribute rules, in
// declaration order.
func (s *RuleStore) AttributeRules() []UserAttributeRule {
	return s.current.Load().attrRules
}

// AllTableIDs returns every table with a table-default or column-scoped
// rule set of its own, excluding the doc-default scope.
func (s *RuleStore) AllTableIDs() []TableID {
	snap := s.current.Load()
	seen := make(map[TableID]bool, len(snap.tableDefaults)+len(snap.columnSets))
	for t := range snap.tableDefaults {
		seen[t] = true
	}
	for t := range snap.columnSets {
		seen[t] = true
	}
	out := make([]TableID, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}

// HaveRules reports whether table has any table-default or
// column-scoped rule set of its own (as opposed to falling through
// entirely to the doc-default). It is per-table; the document-wide
// question Engine.HasNuancedAccess asks is answered by AnyUserRules.
func (s *RuleStore) HaveRules(table TableID) bool {
	snap := s.current.Load()
	if _, ok := snap.tableDefaults[table]; ok {
		return true
	}
	return len(snap.columnSets[table]) > 0
}

// AnyUserRules reports whether the rule manifest defined any rule set
// at all beyond the synthetic built-in role rules: a non-empty
// doc-default supplied by the caller, any table-default, or any
// column-scoped rule set.
func (s *RuleStore) AnyUserRules() bool {
	snap := s.current.Load()
	if len(snap.tableDefaults) > 0 {
		return true
	}
	for _, sets := range snap.columnSets {
		if len(sets) > 0 {
			return true
		}
	}
	builtinCount := len(builtinRoleRules())
	return len(snap.docDefault.Rules) > builtinCount
}
