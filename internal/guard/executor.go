package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Executor runs accepted statements through a read-only channel.
type Executor interface {
	Query(ctx context.Context, stmt string) (Columns, [][]any, error)
}

type Columns []string

// PGExecutor executes statements on a pool whose sessions run with
// default_transaction_read_only, so even a statement that slipped every
// textual check cannot mutate data.
type PGExecutor struct {
	pool *pgxpool.Pool
}

func NewPGExecutor(pool *pgxpool.Pool) *PGExecutor {
	return &PGExecutor{pool: pool}
}

func (e *PGExecutor) Query(ctx context.Context, stmt string) (Columns, [][]any, error) {
	rows, err := e.pool.Query(ctx, stmt)
	if err != nil {
		return nil, nil, fmt.Errorf("execute statement: %w", err)
	}
	defer rows.Close()

	var cols Columns
	for _, fd := range rows.FieldDescriptions() {
		cols = append(cols, fd.Name)
	}

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	return cols, out, nil
}

// isUndefinedRelation reports whether the error is a schema-reference
// failure (unqualified or unknown table), the one case eligible for the
// deterministic textual repair.
func isUndefinedRelation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
