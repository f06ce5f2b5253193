package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTableNotFound is returned when no table matches a contract event.
var ErrTableNotFound = errors.New("event table not found")

// Table is a schema-qualified table name.
type Table struct {
	Schema string
	Name   string
}

func (t Table) String() string { return t.Schema + "." + t.Name }

func (t Table) ident() string { return pgx.Identifier{t.Schema, t.Name}.Sanitize() }

// Store reads indexer output from postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens a pool and pings until the database answers, up to
// attempts times with interval between tries.
func Connect(ctx context.Context, dsn string, attempts int, interval time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts < 1 {
		attempts = 1
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	for i := 0; i < attempts; i++ {
		if err = pool.Ping(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres not reachable after %d attempts: %w", attempts, err)
	}
	return &Store{pool: pool, logger: logger.With("component", "postgres-store")}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// EventTableCandidates lists the (schema, table) pairs rindexer may have
// used for a contract event, most specific first.
func EventTableCandidates(project, contract, event string) []Table {
	e := snake(event)
	out := []Table{}
	for _, c := range nameForms(contract) {
		if project != "" {
			out = append(out, Table{Schema: snake(project) + "_" + c, Name: e})
		}
		out = append(out,
			Table{Schema: c, Name: e},
			Table{Schema: "public", Name: c + "_" + e},
		)
	}
	return out
}

// nameForms is the snake_case and plain lowercase spelling of a contract
// name, deduplicated.
func nameForms(name string) []string {
	s, l := snake(name), strings.ToLower(name)
	if s == l {
		return []string{s}
	}
	return []string{s, l}
}

// MatchEventTable picks the table for contract/event out of the listed
// user tables. Exact candidates win; otherwise a table named after the
// event inside a schema ending in the contract name is accepted.
func MatchEventTable(tables []Table, project, contract, event string) (Table, bool) {
	have := make(map[Table]bool, len(tables))
	for _, t := range tables {
		have[Table{Schema: strings.ToLower(t.Schema), Name: strings.ToLower(t.Name)}] = true
	}
	for _, cand := range EventTableCandidates(project, contract, event) {
		if have[cand] {
			return cand, true
		}
	}
	e := snake(event)
	for _, c := range nameForms(contract) {
		for _, t := range tables {
			schema, name := strings.ToLower(t.Schema), strings.ToLower(t.Name)
			if name == e && strings.HasSuffix(schema, "_"+c) {
				return Table{Schema: schema, Name: name}, true
			}
		}
	}
	return Table{}, false
}

// Tables lists user tables outside the system schemas.
func (s *Store) Tables(ctx context.Context) ([]Table, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// FindEventTable resolves where the indexer stores contract/event rows.
func (s *Store) FindEventTable(ctx context.Context, project, contract, event string) (Table, error) {
	tables, err := s.Tables(ctx)
	if err != nil {
		return Table{}, err
	}
	t, ok := MatchEventTable(tables, project, contract, event)
	if !ok {
		return Table{}, fmt.Errorf("%w: %s %s among %d tables", ErrTableNotFound, contract, event, len(tables))
	}
	s.logger.Debug("resolved event table", "contract", contract, "event", event, "table", t)
	return t, nil
}

// CountRows returns the row count of t.
func (s *Store) CountRows(ctx context.Context, t Table) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+t.ident()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", t, err)
	}
	return n, nil
}

// Columns lists t's column names in ordinal order.
func (s *Store) Columns(ctx context.Context, t Table) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", t, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ColumnValues returns up to limit text values of the first column of t
// named in candidates.
func (s *Store) ColumnValues(ctx context.Context, t Table, candidates []string, limit int) (string, []string, error) {
	cols, err := s.Columns(ctx, t)
	if err != nil {
		return "", nil, err
	}
	col, ok := firstPresent(cols, candidates)
	if !ok {
		return "", nil, fmt.Errorf("%s has none of the columns %v", t, candidates)
	}
	q := fmt.Sprintf("SELECT %s::text FROM %s LIMIT %d", pgx.Identifier{col}.Sanitize(), t.ident(), limit)
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s.%s: %w", t, col, err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", nil, err
	}
	return col, values, nil
}

func firstPresent(cols, candidates []string) (string, bool) {
	have := make(map[string]string, len(cols))
	for _, c := range cols {
		have[strings.ToLower(c)] = c
	}
	for _, cand := range candidates {
		if c, ok := have[strings.ToLower(cand)]; ok {
			return c, true
		}
	}
	return "", false
}

// snake lowercases s and puts an underscore before each interior capital
// that starts a new word, so SimpleERC20 becomes simple_erc20.
func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prev := runes[i-1]
			prevLower := (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9')
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			prevUpper := prev >= 'A' && prev <= 'Z'
			if prevLower || (prevUpper && nextLower) {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
