package aclengine

import "context"

// ActionKind identifies the shape of one outgoing document action.
type ActionKind int

const (
	ActionAddRecord ActionKind = iota
	ActionUpdateRecord
	ActionRemoveRecord
	// ActionSchemaAlter marks a mutation that changes the table's
	// column set itself (add/rename/remove column) rather than a row's
	// data, so it is planned against ColumnIDs instead of row images.
	ActionSchemaAlter
)

// String implements fmt.Stringer.
func (k ActionKind) String() string {
	switch k {
	case ActionAddRecord:
		return "AddRecord"
	case ActionUpdateRecord:
		return "UpdateRecord"
	case ActionRemoveRecord:
		return "RemoveRecord"
	case ActionSchemaAlter:
		return "SchemaAlter"
	default:
		return "Unknown"
	}
}

// censoredValue is the distinguished sentinel a censored cell holds:
// present in the output (the client still expects the key, since the
// column as a whole is readable for at least one other row) but
// carrying no real data.
type censoredValue struct{}

// Censored is substituted for a cell whose column resolves to
// something other than a clean Allow or Deny for that specific row
// (AllowSome, DenySome, or Mixed): the column isn't dropped outright,
// since other rows may show real data for it, but this row's value is
// withheld.
var Censored = censoredValue{}

// DocAction is one row- or schema-level mutation destined for
// broadcast to client sessions, after row-transition planning has
// decided what kind of action each recipient should actually see. For
// row-shaped kinds (Add/Update/Remove), RowIDs may name more than one
// row: Grist's client protocol allows a single action to carry a bulk
// list of row ids, and the planner itself synthesizes bulk adds and
// removes when a mutation's side effect is to change many rows'
// visibility at once.
type DocAction struct {
	Kind  ActionKind
	Table TableID

	// RowIDs is the affected rows, for Add/Update/Remove actions.
	RowIDs []RowID
	// Columns maps each affected row to its (already pruned and
	// censored) column values, for Add/Update actions.
	Columns map[RowID]map[ColID]any

	// ColumnIDs lists the schema columns an ActionSchemaAlter touches.
	ColumnIDs []ColID
}

// IsBulk reports whether a carries more than one row, the shape
// Grist calls a "bulk" action.
func (a *DocAction) IsBulk() bool { return len(a.RowIDs) > 1 }

// RowTransitionPlanner rewrites one incoming mutation into the
// DocAction(s) a particular session should receive, accounting for
// rows whose visibility changes as a side effect of the mutation
// rather than because the mutation targeted them directly, for column
// sets that are only partially readable, and for individual cells
// whose readability depends on the row itself.
//
// A row a session could read before the mutation and can still read
// after passes through as an update. A row the session could not read
// before but can read after must be synthesized as an add, since the
// session's client has no prior copy of it to update. A row the
// session could read before but cannot read after must be synthesized
// as a remove, since simply omitting it from the update would leave a
// stale copy on the client.
type RowTransitionPlanner struct {
	eval   *Evaluator
	censor *MetadataCensor
}

// NewRowTransitionPlanner builds a planner driven by eval and censor.
func NewRowTransitionPlanner(eval *Evaluator, censor *MetadataCensor) *RowTransitionPlanner {
	return &RowTransitionPlanner{eval: eval, censor: censor}
}

// Plan computes the DocAction(s) session should receive for incoming,
// given the before/after row images in snapshot. The result may be
// empty (nothing visible changed for this session), may echo incoming
// unchanged (the table is fully readable), may be incoming with
// columns pruned (the table's column-scoped rules make some columns
// universally unreadable, independent of any specific row), or may be
// a reordered sequence of synthetic adds, the original mutation
// narrowed to rows still visible both before and after, and synthetic
// removes — in that order, so a client never sees an add for a row it
// is about to lose and never misses an add for a row it's about to
// receive an update for.
func (p *RowTransitionPlanner) Plan(ctx context.Context, session Session, incoming DocAction, snapshot RowSnapshot) ([]DocAction, error) {
	tableVerdict, err := p.eval.TableAccess(ctx, session, incoming.Table)
	if err != nil {
		return nil, err
	}
	if tableVerdict.Read() == Deny {
		return nil, nil
	}

	if incoming.Kind == ActionSchemaAlter {
		return p.planSchemaAlter(ctx, session, incoming, tableVerdict)
	}

	if tableVerdict.Read() == Allow {
		return []DocAction{incoming}, nil
	}

	rowIDs := unionRowIDs(snapshot)
	if len(rowIDs) == 0 {
		return nil, nil
	}

	if tableVerdict.Read() == MixedColumns {
		return p.planColumnPruned(ctx, session, incoming, snapshot, rowIDs)
	}

	return p.planRowPartition(ctx, session, incoming, snapshot, rowIDs)
}

// planSchemaAlter handles a column-add/rename/remove mutation. A fully
// readable table passes the action through untouched. A table whose
// unreadability is purely column-shaped (MixedColumns, no row
// dependence) can still be reconciled: columns the session can't read
// are dropped from ColumnIDs, and the action is suppressed entirely if
// every touched column was forbidden. A table whose unreadability
// depends on specific rows (Mixed/AllowSome/DenySome) can't be
// reconciled this way at all: the schema itself changed and there is
// no row-independent way to know which of the session's own cached
// rows the new/removed column even applies to, so the caller must
// reload.
func (p *RowTransitionPlanner) planSchemaAlter(ctx context.Context, session Session, incoming DocAction, tableVerdict TablePermissionSet) ([]DocAction, error) {
	if tableVerdict.Read() == Allow {
		return []DocAction{incoming}, nil
	}

	verdicts, err := p.columnVerdicts(ctx, session, incoming.Table, incoming.ColumnIDs, nil, nil)
	if err != nil {
		return nil, err
	}
	allReadable := true
	kept := make([]ColID, 0, len(incoming.ColumnIDs))
	for _, col := range incoming.ColumnIDs {
		if verdicts[col] == Allow {
			kept = append(kept, col)
		} else {
			allReadable = false
		}
	}
	if allReadable {
		return []DocAction{incoming}, nil
	}
	if tableVerdict.Read() != MixedColumns {
		return nil, ErrNeedReload
	}
	if len(kept) == 0 {
		return nil, nil
	}
	out := incoming
	out.ColumnIDs = kept
	return []DocAction{out}, nil
}

// planColumnPruned handles a MixedColumns table: no row is more or
// less visible than any other, so every row in the mutation passes
// through under its original action kind, with forbidden columns
// dropped and row-dependent columns censored.
func (p *RowTransitionPlanner) planColumnPruned(ctx context.Context, session Session, incoming DocAction, snapshot RowSnapshot, rowIDs []RowID) ([]DocAction, error) {
	if incoming.Kind == ActionRemoveRecord {
		return []DocAction{incoming}, nil
	}
	cols := make(map[RowID]map[ColID]any, len(rowIDs))
	for _, id := range rowIDs {
		before, after := rowAt(snapshot, id)
		values := recordValues(after)
		if values == nil {
			values = recordValues(before)
		}
		pruned, err := p.censorRowColumns(ctx, session, incoming.Table, before, after, values)
		if err != nil {
			return nil, err
		}
		cols[id] = pruned
	}
	out := incoming
	out.RowIDs = rowIDs
	out.Columns = cols
	return []DocAction{out}, nil
}

// planRowPartition handles a table whose visibility genuinely depends
// on the row (Mixed, AllowSome, or DenySome at the table level): each
// referenced row is independently classified by whether it was
// visible before and after the mutation, and the four resulting
// buckets are assembled as synthetic adds, the narrowed original
// mutation, then synthetic removes.
func (p *RowTransitionPlanner) planRowPartition(ctx context.Context, session Session, incoming DocAction, snapshot RowSnapshot, rowIDs []RowID) ([]DocAction, error) {
	var addIDs, keepIDs, removeIDs []RowID
	addCols := map[RowID]map[ColID]any{}
	keepCols := map[RowID]map[ColID]any{}

	for _, id := range rowIDs {
		before, after := rowAt(snapshot, id)
		visibleBefore := before != nil && incoming.Kind != ActionAddRecord
		visibleAfter := after != nil && incoming.Kind != ActionRemoveRecord

		var err error
		if visibleBefore {
			visibleBefore, err = p.rowVisible(ctx, session, incoming.Table, before, nil)
			if err != nil {
				return nil, err
			}
		}
		if visibleAfter {
			visibleAfter, err = p.rowVisible(ctx, session, incoming.Table, nil, after)
			if err != nil {
				return nil, err
			}
		}

		switch {
		case !visibleBefore && !visibleAfter:
			continue
		case !visibleBefore && visibleAfter:
			pruned, err := p.censorRowColumns(ctx, session, incoming.Table, before, after, recordValues(after))
			if err != nil {
				return nil, err
			}
			addIDs = append(addIDs, id)
			addCols[id] = pruned
		case visibleBefore && !visibleAfter:
			removeIDs = append(removeIDs, id)
		default:
			pruned, err := p.censorRowColumns(ctx, session, incoming.Table, before, after, recordValues(after))
			if err != nil {
				return nil, err
			}
			keepIDs = append(keepIDs, id)
			keepCols[id] = pruned
		}
	}

	var out []DocAction
	if len(addIDs) > 0 {
		out = append(out, DocAction{Kind: ActionAddRecord, Table: incoming.Table, RowIDs: addIDs, Columns: addCols})
	}
	if len(keepIDs) > 0 && incoming.Kind != ActionRemoveRecord {
		out = append(out, DocAction{Kind: incoming.Kind, Table: incoming.Table, RowIDs: keepIDs, Columns: keepCols})
	}
	if len(removeIDs) > 0 {
		out = append(out, DocAction{Kind: ActionRemoveRecord, Table: incoming.Table, RowIDs: removeIDs})
	}
	return out, nil
}

// PlanBundle runs Plan across every mutation in a bundle, dropping
// empty results, preserving mutation order and, within one mutation,
// the synthetic-add/mutated/synthetic-remove ordering Plan returns.
func (p *RowTransitionPlanner) PlanBundle(ctx context.Context, session Session, bundle RowSnapshotBundle) ([]DocAction, error) {
	out := make([]DocAction, 0, len(bundle.Mutations))
	for _, m := range bundle.Mutations {
		actions, err := p.Plan(ctx, session, m.Action, m.Snapshot)
		if err != nil {
			return nil, err
		}
		out = append(out, actions...)
	}
	return out, nil
}

func (p *RowTransitionPlanner) rowVisible(ctx context.Context, session Session, table TableID, oldRec, newRec RecordView) (bool, error) {
	if oldRec == nil && newRec == nil {
		return false, nil
	}
	mixed, err := p.eval.RowAccess(ctx, session, table, oldRec, newRec)
	if err != nil {
		return false, err
	}
	switch mixed.Read() {
	case Allow, AllowSome:
		return true, nil
	default:
		return false, nil
	}
}

// columnVerdicts resolves the Read verdict for each of cols against
// table, with oldRec/newRec bound (nil for a row-independent, table-
// wide check).
func (p *RowTransitionPlanner) columnVerdicts(ctx context.Context, session Session, table TableID, cols []ColID, oldRec, newRec RecordView) (map[ColID]PermValue, error) {
	out := make(map[ColID]PermValue, len(cols))
	for _, col := range cols {
		v, err := p.eval.ColumnRead(ctx, session, table, col, oldRec, newRec)
		if err != nil {
			return nil, err
		}
		out[col] = v
	}
	return out, nil
}

// censorRowColumns drops columns this row resolves to Deny/Unset for,
// passes through columns resolved cleanly to Allow, and replaces every
// other column's value with Censored.
func (p *RowTransitionPlanner) censorRowColumns(ctx context.Context, session Session, table TableID, oldRec, newRec RecordView, values map[ColID]any) (map[ColID]any, error) {
	out := make(map[ColID]any, len(values))
	for col, v := range values {
		verdict, err := p.eval.ColumnRead(ctx, session, table, col, oldRec, newRec)
		if err != nil {
			return nil, err
		}
		switch verdict {
		case Allow:
			out[col] = v
		case Deny, Unset:
			// dropped
		default:
			out[col] = Censored
		}
	}
	return out, nil
}

func recordValues(rec RecordView) map[ColID]any {
	r, ok := rec.(*Record)
	if !ok || r == nil {
		return nil
	}
	out := make(map[ColID]any, len(r.Values))
	for k, v := range r.Values {
		out[k] = v
	}
	return out
}

// rowAt returns the before/after record for id, as true nil
// RecordViews (not a nil *Record wrapped in a non-nil interface) when
// the row is absent on that side, so nil-checks elsewhere behave
// correctly.
func rowAt(snapshot RowSnapshot, id RowID) (before, after RecordView) {
	if snapshot.Before != nil {
		if r, ok := snapshot.Before.Rows[id]; ok {
			before = r
		}
	}
	if snapshot.After != nil {
		if r, ok := snapshot.After.Rows[id]; ok {
			after = r
		}
	}
	return before, after
}

func unionRowIDs(snapshot RowSnapshot) []RowID {
	seen := map[RowID]bool{}
	var out []RowID
	add := func(data *TableData) {
		if data == nil {
			return
		}
		for id := range data.Rows {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	add(snapshot.Before)
	add(snapshot.After)
	return out
}
