// Package postgres stores the aggregate sink in PostgreSQL: the sink is a
// schema, each section a table, and a ledger table records appended sources.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/aggregate"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/model"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/retry"
)

const ledgerTable = "ingested_sources"

// Store implements aggregate.Store on a PostgreSQL database.
type Store struct {
	db *sql.DB
}

// Open connects to the database described by dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FindSink(ctx context.Context, name string) (string, bool, error) {
	schema := aggregate.Identifier(name)
	var found string
	err := s.db.QueryRowContext(ctx,
		`SELECT schema_name FROM information_schema.schemata WHERE schema_name = $1`, schema,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("find sink", err)
	}
	return found, true, nil
}

func (s *Store) CreateSink(ctx context.Context, name string) (string, error) {
	schema := aggregate.Identifier(name)
	if schema == "" {
		return "", aggregate.Permanent("create sink", fmt.Errorf("sink name %q has no usable characters", name))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", classify("create sink", err)
	}
	defer tx.Rollback()

	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA %s`, pq.QuoteIdentifier(schema)),
		fmt.Sprintf(`CREATE TABLE %s (
			section     text        NOT NULL,
			source      text        NOT NULL,
			row_count   integer     NOT NULL,
			appended_at timestamptz NOT NULL DEFAULT now()
		)`, qualified(schema, ledgerTable)),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return "", classify("create sink", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", classify("create sink", err)
	}
	return schema, nil
}

func (s *Store) AddSection(ctx context.Context, sinkID, section string, header []string) error {
	defs := []string{"row_id bigserial PRIMARY KEY"}
	for _, col := range aggregate.ColumnNames(header) {
		defs = append(defs, pq.QuoteIdentifier(col)+" text")
	}
	defs = append(defs, "source_file text NOT NULL")

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, qualified(sinkID, section), strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return classify("add section", err)
	}
	return nil
}

// AppendValues inserts rows and the ledger entry in one transaction.
func (s *Store) AppendValues(ctx context.Context, sinkID, section, source string, rows []model.Row) error {
	cols := append(aggregate.ColumnNames(model.Header), "source_file")
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
		params[i] = fmt.Sprintf("$%d", i+1)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("append", err)
	}
	defer tx.Rollback()

	if len(rows) > 0 {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
			qualified(sinkID, section), strings.Join(quoted, ", "), strings.Join(params, ", ")))
		if err != nil {
			return classify("append", err)
		}
		defer stmt.Close()

		args := make([]any, len(cols))
		for _, r := range rows {
			for i, v := range r.Values() {
				args[i] = v
			}
			args[len(cols)-1] = source
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return classify("append", err)
			}
		}
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (section, source, row_count) VALUES ($1, $2, $3)`, qualified(sinkID, ledgerTable)),
		section, source, len(rows))
	if err != nil {
		return classify("append", err)
	}
	if err := tx.Commit(); err != nil {
		return classify("append", err)
	}
	return nil
}

func (s *Store) Sources(ctx context.Context, sinkID, section string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT source FROM %s WHERE section = $1`, qualified(sinkID, ledgerTable)), section)
	if err != nil {
		return nil, classify("sources", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, classify("sources", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sources", err)
	}
	return sources, nil
}

func qualified(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

// classify marks connection loss, resource exhaustion, operator
// intervention and serialization failures as transient.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return aggregate.Transient(op, err)
		}
		return aggregate.Permanent(op, err)
	}
	if errors.Is(err, driver.ErrBadConn) || retry.IsNetworkError(err) {
		return aggregate.Transient(op, err)
	}
	return aggregate.Permanent(op, err)
}
