package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velto/linkpage/internal/models"
)

// PostgresStore implements every repository against PostgreSQL. Rollup
// increments are single INSERT ... ON CONFLICT statements and counter
// increments are single UPDATEs, so concurrent writers never lose updates.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema creates the tables if they do not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	tier       TEXT NOT NULL DEFAULT 'free',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS links (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	title              TEXT NOT NULL,
	url                TEXT NOT NULL,
	platform           TEXT NOT NULL DEFAULT '',
	icon               TEXT NOT NULL DEFAULT '',
	sort_order         INTEGER NOT NULL DEFAULT 0,
	active             BOOLEAN NOT NULL DEFAULT true,
	verified           BOOLEAN NOT NULL DEFAULT false,
	ab_testing_enabled BOOLEAN NOT NULL DEFAULT false,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_links_user ON links (user_id, sort_order);

CREATE TABLE IF NOT EXISTS link_variants (
	id          TEXT PRIMARY KEY,
	link_id     TEXT NOT NULL,
	label       TEXT NOT NULL,
	title       TEXT NOT NULL,
	url         TEXT NOT NULL,
	weight      INTEGER NOT NULL DEFAULT 50,
	impressions BIGINT NOT NULL DEFAULT 0,
	clicks      BIGINT NOT NULL DEFAULT 0,
	active      BOOLEAN NOT NULL DEFAULT true,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_variants_link ON link_variants (link_id, created_at);

CREATE TABLE IF NOT EXISTS link_clicks (
	id          TEXT PRIMARY KEY,
	link_id     TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	variant_id  TEXT NOT NULL DEFAULT '',
	ts          TIMESTAMPTZ NOT NULL,
	ip          VARCHAR(45) NOT NULL DEFAULT '',
	user_agent  VARCHAR(500) NOT NULL DEFAULT '',
	referrer    VARCHAR(500) NOT NULL DEFAULT '',
	device_type TEXT NOT NULL DEFAULT '',
	browser     TEXT NOT NULL DEFAULT '',
	os          TEXT NOT NULL DEFAULT '',
	country     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_clicks_user_ts ON link_clicks (user_id, ts);

CREATE TABLE IF NOT EXISTS link_clicks_daily (
	link_id       TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	day           DATE NOT NULL,
	total_clicks  BIGINT NOT NULL DEFAULT 0,
	unique_clicks BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (link_id, day)
);
CREATE INDEX IF NOT EXISTS idx_clicks_daily_user ON link_clicks_daily (user_id, day);

CREATE TABLE IF NOT EXISTS profile_views (
	user_id      TEXT NOT NULL,
	day          DATE NOT NULL,
	total_views  BIGINT NOT NULL DEFAULT 0,
	unique_views BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, day)
);
`

// Migrate applies the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// =============================================
// Users
// =============================================

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `
		SELECT id, username, tier, created_at FROM users WHERE id = $1
	`, id))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx, `
		SELECT id, username, tier, created_at FROM users WHERE username = $1
	`, username))
}

func (s *PostgresStore) scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Tier, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u *models.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, tier, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET username = $2, tier = $3
	`, u.ID, u.Username, u.Tier, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// =============================================
// Links
// =============================================

const linkColumns = `id, user_id, title, url, platform, icon, sort_order,
	active, verified, ab_testing_enabled, created_at, updated_at`

func (s *PostgresStore) GetLink(ctx context.Context, id string) (*models.Link, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+linkColumns+` FROM links WHERE id = $1`, id)
	return s.scanLink(row)
}

func (s *PostgresStore) ListLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+linkColumns+` FROM links WHERE user_id = $1 ORDER BY sort_order ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []*models.Link
	for rows.Next() {
		l, err := s.scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *PostgresStore) scanLink(row pgx.Row) (*models.Link, error) {
	var l models.Link
	err := row.Scan(&l.ID, &l.UserID, &l.Title, &l.URL, &l.Platform, &l.Icon,
		&l.SortOrder, &l.Active, &l.Verified, &l.ABTestingEnabled,
		&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan link: %w", err)
	}
	return &l, nil
}

func (s *PostgresStore) UpsertLink(ctx context.Context, l *models.Link) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO links (id, user_id, title, url, platform, icon, sort_order,
			active, verified, ab_testing_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			title = $3, url = $4, platform = $5, icon = $6, sort_order = $7,
			active = $8, verified = $9, ab_testing_enabled = $10, updated_at = $12
	`, l.ID, l.UserID, l.Title, l.URL, l.Platform, l.Icon, l.SortOrder,
		l.Active, l.Verified, l.ABTestingEnabled, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert link: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteLink(ctx context.Context, id string) error {
	// Raw click and rollup rows are intentionally left behind; the
	// analytics reader shows orphans as "Unknown".
	tag, err := s.pool.Exec(ctx, `DELETE FROM links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM link_variants WHERE link_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete link variants: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetABTesting(ctx context.Context, linkID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE links SET ab_testing_enabled = $2, updated_at = now() WHERE id = $1
	`, linkID, enabled)
	if err != nil {
		return fmt.Errorf("failed to set ab testing flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================
// Variants
// =============================================

const variantColumns = `id, link_id, label, title, url, weight, impressions, clicks, active, created_at`

func (s *PostgresStore) GetVariant(ctx context.Context, id string) (*models.LinkVariant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+variantColumns+` FROM link_variants WHERE id = $1`, id)
	return s.scanVariant(row)
}

func (s *PostgresStore) ListVariants(ctx context.Context, linkID string) ([]*models.LinkVariant, error) {
	// Creation order keeps selection deterministic for a given draw.
	rows, err := s.pool.Query(ctx, `
		SELECT `+variantColumns+` FROM link_variants
		WHERE link_id = $1 ORDER BY created_at ASC, id ASC
	`, linkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	var variants []*models.LinkVariant
	for rows.Next() {
		v, err := s.scanVariant(rows)
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func (s *PostgresStore) scanVariant(row pgx.Row) (*models.LinkVariant, error) {
	var v models.LinkVariant
	err := row.Scan(&v.ID, &v.LinkID, &v.Label, &v.Title, &v.URL, &v.Weight,
		&v.Impressions, &v.Clicks, &v.Active, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan variant: %w", err)
	}
	return &v, nil
}

func (s *PostgresStore) UpsertVariant(ctx context.Context, v *models.LinkVariant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO link_variants (id, link_id, label, title, url, weight,
			impressions, clicks, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			label = $3, title = $4, url = $5, weight = $6, active = $9
	`, v.ID, v.LinkID, v.Label, v.Title, v.URL, v.Weight,
		v.Impressions, v.Clicks, v.Active, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert variant: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteVariant(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM link_variants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete variant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IncrementImpressions(ctx context.Context, variantID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE link_variants SET impressions = impressions + 1 WHERE id = $1
	`, variantID)
	if err != nil {
		return fmt.Errorf("failed to increment impressions: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementClicks(ctx context.Context, variantID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE link_variants SET clicks = clicks + 1 WHERE id = $1
	`, variantID)
	if err != nil {
		return fmt.Errorf("failed to increment clicks: %w", err)
	}
	return nil
}

// =============================================
// Raw events
// =============================================

func (s *PostgresStore) SaveClick(ctx context.Context, click *models.LinkClick) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO link_clicks (id, link_id, user_id, variant_id, ts, ip,
			user_agent, referrer, device_type, browser, os, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, click.ID, click.LinkID, click.UserID, click.VariantID, click.Timestamp,
		click.IP, click.UserAgent, click.Referrer, click.DeviceType,
		click.Browser, click.OS, click.Country)
	if err != nil {
		return fmt.Errorf("failed to save click: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeviceBreakdown(ctx context.Context, userID string, since time.Time) ([]LabelCount, error) {
	return s.breakdown(ctx, "device_type", userID, since)
}

func (s *PostgresStore) BrowserBreakdown(ctx context.Context, userID string, since time.Time) ([]LabelCount, error) {
	return s.breakdown(ctx, "browser", userID, since)
}

func (s *PostgresStore) breakdown(ctx context.Context, column, userID string, since time.Time) ([]LabelCount, error) {
	// column is one of two compile-time constants, never user input.
	rows, err := s.pool.Query(ctx, `
		SELECT `+column+`, COUNT(*) FROM link_clicks
		WHERE user_id = $1 AND ts >= $2
		GROUP BY `+column+` ORDER BY COUNT(*) DESC
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s breakdown: %w", column, err)
	}
	defer rows.Close()

	var result []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, err
		}
		result = append(result, lc)
	}
	return result, rows.Err()
}

// =============================================
// Rollups
// =============================================

func (s *PostgresStore) IncrementLinkClicks(ctx context.Context, linkID, userID string, day time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO link_clicks_daily (link_id, user_id, day, total_clicks, unique_clicks)
		VALUES ($1, $2, $3, 1, 1)
		ON CONFLICT (link_id, day) DO UPDATE
			SET total_clicks = link_clicks_daily.total_clicks + 1
	`, linkID, userID, models.Day(day))
	if err != nil {
		return fmt.Errorf("failed to upsert click rollup: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementProfileViews(ctx context.Context, userID string, day time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profile_views (user_id, day, total_views, unique_views)
		VALUES ($1, $2, 1, 1)
		ON CONFLICT (user_id, day) DO UPDATE
			SET total_views = profile_views.total_views + 1
	`, userID, models.Day(day))
	if err != nil {
		return fmt.Errorf("failed to upsert view rollup: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClickSeries(ctx context.Context, userID string, from, to time.Time) ([]DayCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT day, SUM(total_clicks) FROM link_clicks_daily
		WHERE user_id = $1 AND day BETWEEN $2 AND $3
		GROUP BY day
	`, userID, models.Day(from), models.Day(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query click series: %w", err)
	}
	return scanDayCounts(rows)
}

func (s *PostgresStore) ViewSeries(ctx context.Context, userID string, from, to time.Time) ([]DayCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT day, total_views FROM profile_views
		WHERE user_id = $1 AND day BETWEEN $2 AND $3
	`, userID, models.Day(from), models.Day(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query view series: %w", err)
	}
	return scanDayCounts(rows)
}

func scanDayCounts(rows pgx.Rows) ([]DayCount, error) {
	defer rows.Close()

	var result []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, err
		}
		dc.Day = models.Day(dc.Day)
		result = append(result, dc)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ClicksByLink(ctx context.Context, userID string, from, to time.Time) ([]LinkTotal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT link_id, SUM(total_clicks) FROM link_clicks_daily
		WHERE user_id = $1 AND day BETWEEN $2 AND $3
		GROUP BY link_id ORDER BY SUM(total_clicks) DESC
	`, userID, models.Day(from), models.Day(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query clicks by link: %w", err)
	}
	defer rows.Close()

	var result []LinkTotal
	for rows.Next() {
		var lt LinkTotal
		if err := rows.Scan(&lt.LinkID, &lt.Clicks); err != nil {
			return nil, err
		}
		result = append(result, lt)
	}
	return result, rows.Err()
}
