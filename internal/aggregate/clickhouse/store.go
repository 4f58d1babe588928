// Package clickhouse stores the aggregate sink in ClickHouse: the sink is a
// database, each section a MergeTree table.
package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/aggregate"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/model"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/retry"
)

const ledgerTable = "ingested_sources"

// Inserts carry a deduplication token so that a retried batch is dropped by
// the server instead of appended twice.
const dedupWindow = 10000

type Client struct {
	conn driver.Conn
}

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Logger: logger,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) FindSink(ctx context.Context, name string) (string, bool, error) {
	var found string
	err := c.conn.QueryRow(ctx,
		`SELECT name FROM system.databases WHERE name = @name`,
		clickhouse.Named("name", aggregate.Identifier(name)),
	).Scan(&found)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("find sink", err)
	}
	return found, true, nil
}

func (c *Client) CreateSink(ctx context.Context, name string) (string, error) {
	db := aggregate.Identifier(name)
	if db == "" {
		return "", aggregate.Permanent("create sink", fmt.Errorf("sink name %q has no usable characters", name))
	}

	if err := c.conn.Exec(ctx, fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, quote(db))); err != nil {
		return "", classify("create sink", err)
	}
	err := c.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			section     String,
			source      String,
			row_count   UInt32,
			appended_at DateTime DEFAULT now()
		)
		ENGINE = MergeTree
		ORDER BY (section, source)
		SETTINGS non_replicated_deduplication_window = %d
	`, qualified(db, ledgerTable), dedupWindow))
	if err != nil {
		return "", classify("create sink", err)
	}
	return db, nil
}

func (c *Client) AddSection(ctx context.Context, sinkID, section string, header []string) error {
	var defs []string
	for _, col := range aggregate.ColumnNames(header) {
		defs = append(defs, quote(col)+" String")
	}
	defs = append(defs, "source_file String", "appended_at DateTime64(6) DEFAULT now64(6)")

	err := c.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (%s)
		ENGINE = MergeTree
		ORDER BY (appended_at, source_file)
		SETTINGS non_replicated_deduplication_window = %d
	`, qualified(sinkID, section), strings.Join(defs, ", "), dedupWindow))
	if err != nil {
		return classify("add section", err)
	}
	return nil
}

// AppendValues sends rows as one batch, then records source in the ledger.
// Both inserts are deduplicated per section and source.
func (c *Client) AppendValues(ctx context.Context, sinkID, section, source string, rows []model.Row) error {
	token := section + "/" + source

	if len(rows) > 0 {
		cols := append(aggregate.ColumnNames(model.Header), "source_file")
		quoted := make([]string, len(cols))
		for i, col := range cols {
			quoted[i] = quote(col)
		}

		bctx := clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
			"insert_deduplication_token": token + "/rows",
		}))
		batch, err := c.conn.PrepareBatch(bctx, fmt.Sprintf(`INSERT INTO %s (%s)`,
			qualified(sinkID, section), strings.Join(quoted, ", ")))
		if err != nil {
			return classify("append", err)
		}

		args := make([]any, len(cols))
		for _, r := range rows {
			for i, v := range r.Values() {
				args[i] = v
			}
			args[len(cols)-1] = source
			if err := batch.Append(args...); err != nil {
				_ = batch.Abort()
				return classify("append", err)
			}
		}
		if err := batch.Send(); err != nil {
			return classify("append", err)
		}
	}

	lctx := clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"insert_deduplication_token": token + "/ledger",
	}))
	err := c.conn.Exec(lctx,
		fmt.Sprintf(`INSERT INTO %s (section, source, row_count) VALUES (@section, @source, @row_count)`,
			qualified(sinkID, ledgerTable)),
		clickhouse.Named("section", section),
		clickhouse.Named("source", source),
		clickhouse.Named("row_count", uint32(len(rows))),
	)
	if err != nil {
		return classify("append", err)
	}
	return nil
}

// Sources lists the ledger together with any source_file already present in
// the section table, so rows sent without their ledger entry still count.
func (c *Client) Sources(ctx context.Context, sinkID, section string) ([]string, error) {
	rows, err := c.conn.Query(ctx,
		fmt.Sprintf(`
			SELECT source FROM %s WHERE section = @section
			UNION DISTINCT
			SELECT DISTINCT source_file FROM %s
		`, qualified(sinkID, ledgerTable), qualified(sinkID, section)),
		clickhouse.Named("section", section),
	)
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

func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "\\`") + "`"
}

func qualified(db, table string) string {
	return quote(db) + "." + quote(table)
}

// Server error codes worth retrying.
var transientCodes = map[int32]bool{
	159: true, // TIMEOUT_EXCEEDED
	202: true, // TOO_MANY_SIMULTANEOUS_QUERIES
	209: true, // SOCKET_TIMEOUT
	210: true, // NETWORK_ERROR
	241: true, // MEMORY_LIMIT_EXCEEDED
	242: true, // TABLE_IS_READ_ONLY
	252: true, // TOO_MANY_PARTS
}

func classify(op string, err error) error {
	var ex *clickhouse.Exception
	if errors.As(err, &ex) {
		if transientCodes[ex.Code] {
			return aggregate.Transient(op, err)
		}
		return aggregate.Permanent(op, err)
	}
	if errors.Is(err, clickhouse.ErrAcquireConnTimeout) || retry.IsNetworkError(err) {
		return aggregate.Transient(op, err)
	}
	return aggregate.Permanent(op, err)
}
