package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/velto/linkpage/internal/models"
)

// ClickHouseEventStore lands raw click events in ClickHouse while the
// relational rollups stay in Postgres. It implements EventStore only; the
// breakdown queries run as columnar GROUP BYs.
type ClickHouseEventStore struct {
	conn driver.Conn
}

// NewClickHouseEventStore creates a ClickHouse-backed raw event store.
func NewClickHouseEventStore(conn driver.Conn) *ClickHouseEventStore {
	return &ClickHouseEventStore{conn: conn}
}

// ClickHouseSchema creates the raw events table.
const ClickHouseSchema = `
CREATE TABLE IF NOT EXISTS link_clicks (
	id          String,
	link_id     String,
	user_id     String,
	variant_id  String,
	ts          DateTime64(3, 'UTC'),
	ip          String,
	user_agent  String,
	referrer    String,
	device_type LowCardinality(String),
	browser     LowCardinality(String),
	os          LowCardinality(String),
	country     LowCardinality(String)
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(ts)
ORDER BY (user_id, ts)
`

// Migrate applies the schema.
func (s *ClickHouseEventStore) Migrate(ctx context.Context) error {
	if err := s.conn.Exec(ctx, ClickHouseSchema); err != nil {
		return fmt.Errorf("failed to apply clickhouse schema: %w", err)
	}
	return nil
}

func (s *ClickHouseEventStore) SaveClick(ctx context.Context, click *models.LinkClick) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO link_clicks (id, link_id, user_id, variant_id, ts, ip,
			user_agent, referrer, device_type, browser, os, country)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, click.ID, click.LinkID, click.UserID, click.VariantID, click.Timestamp,
		click.IP, click.UserAgent, click.Referrer, click.DeviceType,
		click.Browser, click.OS, click.Country)
	if err != nil {
		return fmt.Errorf("failed to save click: %w", err)
	}
	return nil
}

func (s *ClickHouseEventStore) DeviceBreakdown(ctx context.Context, userID string, since time.Time) ([]LabelCount, error) {
	return s.breakdown(ctx, "device_type", userID, since)
}

func (s *ClickHouseEventStore) BrowserBreakdown(ctx context.Context, userID string, since time.Time) ([]LabelCount, error) {
	return s.breakdown(ctx, "browser", userID, since)
}

func (s *ClickHouseEventStore) breakdown(ctx context.Context, column, userID string, since time.Time) ([]LabelCount, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+column+`, count() AS n FROM link_clicks
		WHERE user_id = ? AND ts >= ?
		GROUP BY `+column+` ORDER BY n DESC
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s breakdown: %w", column, err)
	}
	defer rows.Close()

	var result []LabelCount
	for rows.Next() {
		var label string
		var count uint64
		if err := rows.Scan(&label, &count); err != nil {
			return nil, err
		}
		result = append(result, LabelCount{Label: label, Count: int64(count)})
	}
	return result, rows.Err()
}
