package characteristics

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/sheetguard/aclengine"
)

// PQLoader is the database/sql + lib/pq fallback implementation of
// aclengine.StoreFetcher, for deployments that standardize on
// database/sql connection pooling rather than pgx's own pool.
type PQLoader struct {
	db     *sql.DB
	schema string
}

// OpenPQ connects to dsn via lib/pq and returns a ready PQLoader.
func OpenPQ(dsn, schema string) (*PQLoader, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("characteristics: opening lib/pq connection: %w", err)
	}
	return &PQLoader{db: db, schema: schema}, nil
}

// Close releases the underlying *sql.DB.
func (l *PQLoader) Close() error {
	return l.db.Close()
}

// FetchCharacteristicRow implements aclengine.StoreFetcher.
func (l *PQLoader) FetchCharacteristicRow(ctx context.Context, table aclengine.TableID, lookupCol aclengine.ColID, key any) (aclengine.RecordView, error) {
	query := fmt.Sprintf(`SELECT * FROM %s.%s WHERE %s = $1 LIMIT 1`,
		quoteIdent(l.schema), quoteIdent(string(table)), quoteIdent(string(lookupCol)))

	rows, err := l.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("%w: querying characteristic table %s: %v", aclengine.ErrCollaboratorFailed, table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: reading columns for %s: %v", aclengine.ErrCollaboratorFailed, table, err)
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: reading characteristic table %s: %v", aclengine.ErrCollaboratorFailed, table, err)
		}
		return aclengine.EmptyRecordView{}, nil
	}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("%w: scanning characteristic row from %s: %v", aclengine.ErrCollaboratorFailed, table, err)
	}

	rec := &aclengine.Record{Values: make(map[aclengine.ColID]any, len(cols))}
	for i, name := range cols {
		if name == "id" {
			if id, ok := toRowID(vals[i]); ok {
				rec.RowID = id
			}
		}
		rec.Values[aclengine.ColID(name)] = vals[i]
	}
	return rec, nil
}
