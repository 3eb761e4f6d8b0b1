package storage

import (
	"context"
	"errors"
	"time"

	"github.com/velto/linkpage/internal/models"
)

// ErrNotFound is returned when a referenced row does not exist or does not
// belong to the caller. The HTTP layer maps it to 404.
var ErrNotFound = errors.New("not found")

// =============================================
// USER REPOSITORY
// =============================================

// UserRepo defines operations for user storage.
type UserRepo interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpsertUser(ctx context.Context, u *models.User) error
}

// =============================================
// LINK REPOSITORY
// =============================================

// LinkRepo defines operations for link storage.
type LinkRepo interface {
	GetLink(ctx context.Context, id string) (*models.Link, error)
	// ListLinks returns a user's links sorted ascending by sort order.
	ListLinks(ctx context.Context, userID string) ([]*models.Link, error)
	UpsertLink(ctx context.Context, l *models.Link) error
	// DeleteLink removes the link and its variants. Historical click and
	// rollup rows are orphaned, not cascaded.
	DeleteLink(ctx context.Context, id string) error
	// SetABTesting flips the link's A/B flag without touching other fields.
	SetABTesting(ctx context.Context, linkID string, enabled bool) error
}

// =============================================
// VARIANT REPOSITORY
// =============================================

// VariantRepo defines operations for A/B variant storage. The two counter
// increments must be atomic against concurrent writers; implementations
// use single-statement increments, never read-then-write.
type VariantRepo interface {
	GetVariant(ctx context.Context, id string) (*models.LinkVariant, error)
	// ListVariants returns a link's variants in creation order. Selection
	// depends on this order being stable.
	ListVariants(ctx context.Context, linkID string) ([]*models.LinkVariant, error)
	UpsertVariant(ctx context.Context, v *models.LinkVariant) error
	DeleteVariant(ctx context.Context, id string) error

	IncrementImpressions(ctx context.Context, variantID string) error
	IncrementClicks(ctx context.Context, variantID string) error
}

// =============================================
// EVENT STORE
// =============================================

// LabelCount pairs a grouping label with its event count.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// EventStore records raw, write-once click events and answers the breakdown
// queries that only raw rows can (device/browser detail is not in rollups).
type EventStore interface {
	SaveClick(ctx context.Context, click *models.LinkClick) error

	DeviceBreakdown(ctx context.Context, userID string, since time.Time) ([]LabelCount, error)
	BrowserBreakdown(ctx context.Context, userID string, since time.Time) ([]LabelCount, error)
}

// =============================================
// ROLLUP STORE
// =============================================

// DayCount is one point of a per-day series.
type DayCount struct {
	Day   time.Time
	Count int64
}

// LinkTotal is a per-link click total over a window.
type LinkTotal struct {
	LinkID string
	Clicks int64
}

// RollupStore maintains the daily aggregate rows. The two increment
// operations are atomic upserts keyed by the compound (id, day) pair: two
// concurrent first-events-of-the-day must produce one row and two counted
// increments, never a duplicate row or a lost update.
type RollupStore interface {
	// IncrementLinkClicks upserts the (linkID, day) rollup, adding one to
	// total clicks. New rows seed both counters to 1.
	IncrementLinkClicks(ctx context.Context, linkID, userID string, day time.Time) error
	// IncrementProfileViews upserts the (userID, day) rollup.
	IncrementProfileViews(ctx context.Context, userID string, day time.Time) error

	ClickSeries(ctx context.Context, userID string, from, to time.Time) ([]DayCount, error)
	ViewSeries(ctx context.Context, userID string, from, to time.Time) ([]DayCount, error)
	ClicksByLink(ctx context.Context, userID string, from, to time.Time) ([]LinkTotal, error)
}

// Store bundles every repository a fully-wired deployment provides.
type Store interface {
	UserRepo
	LinkRepo
	VariantRepo
	EventStore
	RollupStore
}
