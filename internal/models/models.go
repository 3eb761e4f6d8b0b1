package models

import (
	"time"
	"unicode/utf8"
)

// Tier identifies a user's subscription level. Entitlement checks live in
// the entitlements package; the tier itself is plain data.
type Tier string

const (
	TierFree     Tier = "free"
	TierPro      Tier = "pro"
	TierBusiness Tier = "business"
)

// User is the owner of a profile page and its links.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}

// Link is a single outbound entry on a user's profile page. Rendering
// always sorts ascending by SortOrder; the values need not be contiguous.
type Link struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Platform string `json:"platform,omitempty"`
	Icon     string `json:"icon,omitempty"`

	SortOrder int  `json:"sort_order"`
	Active    bool `json:"active"`
	Verified  bool `json:"verified"`

	// ABTestingEnabled may only be true while the link owns at least two
	// active variants. The links service maintains this.
	ABTestingEnabled bool `json:"ab_testing_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultVariantWeight is used when a variant is created without an
// explicit weight. Matches the link_variants column default.
const DefaultVariantWeight = 50

// LinkVariant is one alternative destination under A/B testing. Weight is a
// relative traffic proportion in [0,100]; weights across a link's active
// variants are not required to sum to 100.
type LinkVariant struct {
	ID     string `json:"id"`
	LinkID string `json:"link_id"`
	Label  string `json:"label"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Weight int    `json:"weight"`

	// Impressions counts view-time selections, Clicks counts activations.
	// Both are mutated only via atomic increments at the storage layer.
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Field caps applied to request metadata at ingestion.
const (
	MaxIPLen        = 45
	MaxUserAgentLen = 500
	MaxReferrerLen  = 500
)

// LinkClick is one immutable raw click event. Rows are write-once; the
// daily rollups are derivable from them.
type LinkClick struct {
	ID        string    `json:"id"`
	LinkID    string    `json:"link_id"`
	UserID    string    `json:"user_id"`
	VariantID string    `json:"variant_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Referrer  string `json:"referrer,omitempty"`

	DeviceType string `json:"device_type"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	Country    string `json:"country,omitempty"`
}

// LinkClickDaily is the per-(link, calendar day) click rollup. Exactly one
// row exists per compound key; TotalClicks is monotonically non-decreasing
// within the day.
type LinkClickDaily struct {
	LinkID       string    `json:"link_id"`
	UserID       string    `json:"user_id"`
	Day          time.Time `json:"day"`
	TotalClicks  int64     `json:"total_clicks"`
	UniqueClicks int64     `json:"unique_clicks"`
}

// ProfileView is the per-(user, calendar day) profile-load rollup.
type ProfileView struct {
	UserID      string    `json:"user_id"`
	Day         time.Time `json:"day"`
	TotalViews  int64     `json:"total_views"`
	UniqueViews int64     `json:"unique_views"`
}

// Day truncates t to UTC midnight. All rollup keys use this boundary.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Truncate caps s at max bytes without splitting a multi-byte rune, so the
// result is still valid UTF-8. Request metadata passes through this before
// it reaches storage.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
