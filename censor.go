package aclengine

import "context"

// TableMetaRow is the document-metadata row describing one table (the
// _grist_Tables table).
type TableMetaRow struct {
	ID   TableID
	Name string
}

// ColumnMetaRow is the document-metadata row describing one column
// (the _grist_Tables_column table).
type ColumnMetaRow struct {
	ID    ColID
	Table TableID
	Label string
	Type  string
}

// ViewMetaRow is the document-metadata row describing one view (the
// _grist_Views table).
type ViewMetaRow struct {
	ID   RowID
	Name string
}

// ViewSectionMetaRow is the document-metadata row describing one
// section within a view (the _grist_Views_section table). TableRef is
// the parent table this section displays; a session that cannot read
// TableRef at all must never see which table the section points to.
type ViewSectionMetaRow struct {
	ID        RowID
	TableRef  TableID
	TitleText string
}

// ViewSectionFieldMetaRow is the document-metadata row describing one
// field within a view section (the _grist_Views_section_field table).
// Table and ColRef together identify the column this field displays.
type ViewSectionFieldMetaRow struct {
	ID            RowID
	Table         TableID
	ColRef        ColID
	Label         string
	WidgetOptions string
	Filter        string
}

// MetaTables bundles the five system metadata tables a document
// exposes to its own UI, the unit FilterMetaTables censors as a whole
// so that cross-table foreign keys (a view section pointing at a
// forbidden table, a field pointing at a forbidden column) are
// censored consistently with the tables and columns they reference.
type MetaTables struct {
	Tables            []TableMetaRow
	Columns           []ColumnMetaRow
	Views             []ViewMetaRow
	ViewSections      []ViewSectionMetaRow
	ViewSectionFields []ViewSectionFieldMetaRow
}

// MetadataCensor filters document metadata and row data down to what
// a session is permitted to see, without ever exposing the existence
// of a table or column the session has no read access to at all. It
// never deletes a row: every metadata row stays in place so row
// indices and row-identity-keyed client state remain valid, and a
// forbidden row's identifying text is blanked and its foreign keys to
// other forbidden rows zeroed instead.
type MetadataCensor struct {
	eval *Evaluator
}

// NewMetadataCensor builds a censor driven by eval.
func NewMetadataCensor(eval *Evaluator) *MetadataCensor {
	return &MetadataCensor{eval: eval}
}

// canReadEverything reports whether session has full, unrestricted
// read access to the entire document: the doc-default verdict itself
// resolves to a clean Allow, and no user-authored rule set exists at
// all (RuleStore.AnyUserRules), so none can narrow any table below that.
// Per Invariant 1, FilterMetaTables and FilterOutgoingDocActions must
// become the identity transform exactly when this holds, so both
// check it up front rather than relying on every per-table branch
// below happening to agree on the same answer.
func (c *MetadataCensor) canReadEverything(ctx context.Context, session Session) (bool, error) {
	verdict, err := c.eval.TableAccess(ctx, session, AllTables)
	if err != nil {
		return false, err
	}
	if verdict.Read() != Allow {
		return false, nil
	}
	return !c.eval.store.AnyUserRules(), nil
}

// FilterMetaTables overwrites the rows of meta a session cannot read,
// in place of deleting them: a table the session has no read access
// to at all has its name blanked; a column the session cannot read
// (because its table is forbidden, or a column-scoped rule denies it)
// has its label blanked and its type coerced to "any", and its table
// reference zeroed when that table is forbidden; a view section
// or field pointing at a forbidden table or column has the foreign
// key zeroed and its own display text blanked. Every row of every one
// of the five tables survives untouched in position, so row counts and
// row identity remain stable for a client that depends on them.
func (c *MetadataCensor) FilterMetaTables(ctx context.Context, session Session, meta MetaTables) (MetaTables, error) {
	if full, err := c.canReadEverything(ctx, session); err != nil {
		return MetaTables{}, err
	} else if full {
		return meta, nil
	}

	forbiddenTables := make(map[TableID]bool, len(meta.Tables))
	for _, t := range meta.Tables {
		verdict, err := c.eval.TableAccess(ctx, session, t.ID)
		if err != nil {
			return MetaTables{}, err
		}
		if verdict.Read() == Deny || verdict.Read() == Unset {
			forbiddenTables[t.ID] = true
		}
	}

	outTables := make([]TableMetaRow, len(meta.Tables))
	for i, t := range meta.Tables {
		outTables[i] = t
		if forbiddenTables[t.ID] {
			outTables[i].Name = ""
		}
	}

	type tcKey struct {
		Table TableID
		Col   ColID
	}
	forbiddenCols := make(map[tcKey]bool, len(meta.Columns))
	outColumns := make([]ColumnMetaRow, len(meta.Columns))
	for i, col := range meta.Columns {
		outColumns[i] = col
		forbidden := forbiddenTables[col.Table]
		if !forbidden {
			verdict, err := c.eval.ColumnRead(ctx, session, col.Table, col.ID, nil, nil)
			if err != nil {
				return MetaTables{}, err
			}
			forbidden = verdict == Deny || verdict == Unset
		}
		if forbidden {
			forbiddenCols[tcKey{col.Table, col.ID}] = true
			outColumns[i].Label = ""
			outColumns[i].Type = "any"
			if forbiddenTables[col.Table] {
				outColumns[i].Table = ""
			}
		}
	}

	outViews := append([]ViewMetaRow(nil), meta.Views...)

	outSections := make([]ViewSectionMetaRow, len(meta.ViewSections))
	for i, s := range meta.ViewSections {
		outSections[i] = s
		if forbiddenTables[s.TableRef] {
			outSections[i].TableRef = ""
			outSections[i].TitleText = ""
		}
	}

	outFields := make([]ViewSectionFieldMetaRow, len(meta.ViewSectionFields))
	for i, f := range meta.ViewSectionFields {
		outFields[i] = f
		if forbiddenTables[f.Table] || forbiddenCols[tcKey{f.Table, f.ColRef}] {
			outFields[i].ColRef = ""
			outFields[i].Label = ""
			outFields[i].WidgetOptions = ""
			outFields[i].Filter = ""
		}
	}

	return MetaTables{
		Tables:            outTables,
		Columns:           outColumns,
		Views:             outViews,
		ViewSections:      outSections,
		ViewSectionFields: outFields,
	}, nil
}

// FilterData drops rows of data the session has no read access to and
// censors cells in columns the session cannot fully read on a row it
// may otherwise see. It never mutates data: a clean table-wide Allow
// returns data itself, and every other verdict returns a new TableData.
func (c *MetadataCensor) FilterData(ctx context.Context, session Session, table TableID, data *TableData) (*TableData, error) {
	if data == nil {
		return nil, nil
	}
	verdict, err := c.eval.TableAccess(ctx, session, table)
	if err != nil {
		return nil, err
	}
	if verdict.Read() == Deny {
		return &TableData{Table: table, Rows: map[RowID]*Record{}}, nil
	}
	if verdict.Read() == Allow {
		return data, nil
	}

	out := &TableData{Table: table, Rows: make(map[RowID]*Record, len(data.Rows))}
	for id, rec := range data.Rows {
		mixed, err := c.eval.RowAccess(ctx, session, table, nil, rec)
		if err != nil {
			return nil, err
		}
		if r := mixed.Read(); r != Allow && r != AllowSome && r != MixedColumns {
			continue
		}
		censored, err := c.censorRow(ctx, session, table, rec)
		if err != nil {
			return nil, err
		}
		out.Rows[id] = censored
	}
	return out, nil
}

// censorRow drops cells in columns this row resolves to Deny for, and
// substitutes Censored for cells whose column resolves to anything
// short of a clean Allow or Deny.
func (c *MetadataCensor) censorRow(ctx context.Context, session Session, table TableID, rec *Record) (*Record, error) {
	out := &Record{RowID: rec.RowID, Values: make(map[ColID]any, len(rec.Values))}
	for col, v := range rec.Values {
		verdict, err := c.eval.ColumnRead(ctx, session, table, col, nil, rec)
		if err != nil {
			return nil, err
		}
		switch verdict {
		case Allow:
			out.Values[col] = v
		case Deny, Unset:
		default:
			out.Values[col] = Censored
		}
	}
	return out, nil
}
