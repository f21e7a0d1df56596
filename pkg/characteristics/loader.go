// Package characteristics loads CharacteristicTable rows from
// PostgreSQL for user-attribute binding.
package characteristics

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sheetguard/aclengine"
)

// Loader implements aclengine.StoreFetcher against a PostgreSQL pool
// using pgx, the primary driver. Each document's tables live in their
// own schema, so callers pass the schema once at construction.
type Loader struct {
	pool   *pgxpool.Pool
	schema string
}

// New builds a Loader against an already-open pool.
func New(pool *pgxpool.Pool, schema string) *Loader {
	return &Loader{pool: pool, schema: schema}
}

// Open connects to dsn and returns a ready Loader.
func Open(ctx context.Context, dsn, schema string) (*Loader, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("characteristics: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("characteristics: ping: %w", err)
	}
	return New(pool, schema), nil
}

// Close releases the underlying pool.
func (l *Loader) Close() {
	l.pool.Close()
}

// Pool exposes the underlying connection pool for callers that need to
// run schema setup or other queries outside FetchCharacteristicRow's
// narrow contract (notably integration tests).
func (l *Loader) Pool() *pgxpool.Pool {
	return l.pool
}

// FetchCharacteristicRow implements aclengine.StoreFetcher. It reads
// every column of the first row where lookupCol equals key, projecting
// row id as the "id" column per this document store's convention.
func (l *Loader) FetchCharacteristicRow(ctx context.Context, table aclengine.TableID, lookupCol aclengine.ColID, key any) (aclengine.RecordView, error) {
	query := fmt.Sprintf(`SELECT * FROM %s.%s WHERE %s = $1 LIMIT 1`,
		quoteIdent(l.schema), quoteIdent(string(table)), quoteIdent(string(lookupCol)))

	rows, err := l.pool.Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("%w: querying characteristic table %s: %v", aclengine.ErrCollaboratorFailed, table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: reading characteristic table %s: %v", aclengine.ErrCollaboratorFailed, table, err)
		}
		return aclengine.EmptyRecordView{}, nil
	}

	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("%w: decoding characteristic row from %s: %v", aclengine.ErrCollaboratorFailed, table, err)
	}
	fields := rows.FieldDescriptions()

	rec := &aclengine.Record{Values: make(map[aclengine.ColID]any, len(fields))}
	for i, fd := range fields {
		name := string(fd.Name)
		if name == "id" {
			if id, ok := toRowID(values[i]); ok {
				rec.RowID = id
			}
		}
		rec.Values[aclengine.ColID(name)] = values[i]
	}
	return rec, nil
}

func toRowID(v any) (aclengine.RowID, bool) {
	switch n := v.(type) {
	case int32:
		return aclengine.RowID(n), true
	case int64:
		return aclengine.RowID(n), true
	case int:
		return aclengine.RowID(n), true
	default:
		return 0, false
	}
}

// quoteIdent double-quotes a SQL identifier, doubling any embedded
// quote to guard against injection via a table or column name.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
