package aclengine

import "fmt"

// TableID identifies a table by its stable document-level name.
type TableID string

// ColID identifies a column within a table.
type ColID string

// RowID identifies a row within a table. Grist-style row IDs are
// monotonically increasing integers assigned by the document store.
type RowID int64

// Session is an opaque handle identifying one client connection to a
// document. Go has no weak-reference primitive, so unlike the
// language-agnostic spec's "weak association", the per-session memo
// keyed by Session requires an explicit eviction path — see
// Evaluator.Forget and Engine.StartSweep.
type Session string

// AccessRole is the coarse role resolved by the external SessionResolver
// collaborator before any rule is evaluated.
type AccessRole int

const (
	RoleNone AccessRole = iota
	RoleViewers
	RoleEditors
	RoleOwners
)

// String implements fmt.Stringer.
func (r AccessRole) String() string {
	switch r {
	case RoleOwners:
		return "owners"
	case RoleEditors:
		return "editors"
	case RoleViewers:
		return "viewers"
	default:
		return "none"
	}
}

// UserInfo is the mutable record a rule predicate is evaluated against.
// It is enriched in place by the UserAttributeResolver as each
// UserAttributeRule is applied in registration order, so later rules
// can observe the attributes bound by earlier ones.
type UserInfo struct {
	Access AccessRole
	UserID string
	Email  string
	Name   string

	// Attributes holds one RecordView per successfully-bound
	// UserAttributeRule, keyed by the rule's Name.
	Attributes map[string]RecordView
}

// Attr returns the named attribute, or the empty record view if the
// resolver never bound it (e.g. the rule set defines no such
// attribute, or binding failed).
func (u *UserInfo) Attr(name string) RecordView {
	if u.Attributes == nil {
		return EmptyRecordView{}
	}
	if v, ok := u.Attributes[name]; ok {
		return v
	}
	return EmptyRecordView{}
}

// RecordView is a read-only projection over one row, used both for the
// mutation's before/after record bound during row-level evaluation and
// for characteristic-table rows bound to a user attribute.
type RecordView interface {
	// Get returns the value of col, or nil if col is absent or the
	// view is empty.
	Get(col ColID) any
	// ID returns the row identity the view projects, or "" for the
	// empty view.
	ID() string
}

// Record is a concrete RecordView over an in-memory row.
type Record struct {
	RowID  RowID
	Values map[ColID]any
}

// Get implements RecordView.
func (r *Record) Get(col ColID) any {
	if r == nil || r.Values == nil {
		return nil
	}
	return r.Values[col]
}

// ID implements RecordView.
func (r *Record) ID() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("%d", r.RowID)
}

// EmptyRecordView is the distinguished "every column returns null and
// JSON-serializes to {}" view bound when a characteristic-table lookup
// misses.
type EmptyRecordView struct{}

// Get always returns nil.
func (EmptyRecordView) Get(ColID) any { return nil }

// ID always returns "".
func (EmptyRecordView) ID() string { return "" }

// TableData is a loaded copy of every row of one table relevant to a
// mutation or a CharacteristicTable load.
type TableData struct {
	Table TableID
	Rows  map[RowID]*Record
}

// RowSnapshot is the before/after image of a table for a single
// mutation within a bundle.
type RowSnapshot struct {
	Before *TableData
	After  *TableData
}

// BundleMutation pairs one incoming mutation's declared action (its
// kind, table, and the row/column identifiers the author intended)
// with the before/after row images that mutation produced, so the
// planner can tell a bulk update of table A from a bulk update of
// table B within the same bundle instead of collapsing every mutation
// in a bundle onto one arbitrary table.
type BundleMutation struct {
	Action   DocAction
	Snapshot RowSnapshot
}

// RowSnapshotBundle is an N-length sequence of mutations making up one
// outgoing bundle, in application order.
type RowSnapshotBundle struct {
	BundleID  string
	Mutations []BundleMutation
}

// Query describes a read a caller wants to perform before issuing it,
// for Engine.HasQueryAccess: the table the query reads from, and the
// columns it projects (empty means every column).
type Query struct {
	Table   TableID
	Columns []ColID
}
