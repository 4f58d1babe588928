package clickhouse

import (
	"context"
	"fmt"
)

func (c *Client) Drop(ctx context.Context, sinkID string) error {
	return c.conn.Exec(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, quote(sinkID)))
}

func (c *Client) CountRows(ctx context.Context, sinkID, section string) (uint64, error) {
	var n uint64
	err := c.conn.QueryRow(ctx, fmt.Sprintf(`SELECT count() FROM %s`, qualified(sinkID, section))).Scan(&n)
	return n, err
}
