// Package analytics computes dashboard summaries from the rollup and raw
// event tables. Reads are on-demand; nothing here runs periodically.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/velto/linkpage/internal/models"
	"github.com/velto/linkpage/internal/storage"
)

// Summary is the headline totals block.
type Summary struct {
	TotalViews  int64  `json:"total_views"`
	TotalClicks int64  `json:"total_clicks"`
	ClickRate   string `json:"click_rate"`
}

// ChartPoint is one calendar day of the dashboard time series.
type ChartPoint struct {
	Date   string `json:"date"` // YYYY-MM-DD
	Views  int64  `json:"views"`
	Clicks int64  `json:"clicks"`
}

// LinkStat is a per-link click total joined with the link's current fields.
type LinkStat struct {
	LinkID   string `json:"link_id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Platform string `json:"platform,omitempty"`
	Clicks   int64  `json:"clicks"`
}

// Report is the full analytics payload for one user and window.
type Report struct {
	Summary      Summary              `json:"summary"`
	ChartData    []ChartPoint         `json:"chart_data"`
	LinkStats    []LinkStat           `json:"link_stats"`
	DeviceStats  []storage.LabelCount `json:"device_stats"`
	BrowserStats []storage.LabelCount `json:"browser_stats"`
}

// VariantStat is a variant plus its derived click rate.
type VariantStat struct {
	Variant   *models.LinkVariant `json:"variant"`
	ClickRate string              `json:"click_rate"`
}

// Reader computes analytics summaries.
type Reader struct {
	links    storage.LinkRepo
	variants storage.VariantRepo
	events   storage.EventStore
	rollups  storage.RollupStore
	logger   *zap.Logger
}

// NewReader constructs a Reader over the given stores.
func NewReader(links storage.LinkRepo, variants storage.VariantRepo, events storage.EventStore,
	rollups storage.RollupStore, logger *zap.Logger) *Reader {
	return &Reader{
		links:    links,
		variants: variants,
		events:   events,
		rollups:  rollups,
		logger:   logger,
	}
}

// GetAnalytics summarizes the window [now - windowDays, now]. A user with
// no activity gets zero totals and a fully zero-filled series, never an
// error. The chart covers every one of the windowDays+1 calendar days so
// sparse data cannot produce gaps.
func (r *Reader) GetAnalytics(ctx context.Context, userID string, windowDays int) (*Report, error) {
	if windowDays < 0 {
		windowDays = 0
	}

	to := models.Day(time.Now().UTC())
	from := to.AddDate(0, 0, -windowDays)

	viewSeries, err := r.rollups.ViewSeries(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read view series: %w", err)
	}
	clickSeries, err := r.rollups.ClickSeries(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read click series: %w", err)
	}

	views := make(map[string]int64, len(viewSeries))
	for _, dc := range viewSeries {
		views[dc.Day.Format("2006-01-02")] = dc.Count
	}
	clicks := make(map[string]int64, len(clickSeries))
	for _, dc := range clickSeries {
		clicks[dc.Day.Format("2006-01-02")] = dc.Count
	}

	// Pre-populate every day in the window, then overlay the rollups.
	chart := make([]ChartPoint, 0, windowDays+1)
	var totalViews, totalClicks int64
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		date := d.Format("2006-01-02")
		p := ChartPoint{Date: date, Views: views[date], Clicks: clicks[date]}
		totalViews += p.Views
		totalClicks += p.Clicks
		chart = append(chart, p)
	}

	linkStats, err := r.linkStats(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	deviceStats, err := r.events.DeviceBreakdown(ctx, userID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to read device breakdown: %w", err)
	}
	browserStats, err := r.events.BrowserBreakdown(ctx, userID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to read browser breakdown: %w", err)
	}
	if deviceStats == nil {
		deviceStats = []storage.LabelCount{}
	}
	if browserStats == nil {
		browserStats = []storage.LabelCount{}
	}

	return &Report{
		Summary: Summary{
			TotalViews:  totalViews,
			TotalClicks: totalClicks,
			ClickRate:   clickRate(totalClicks, totalViews),
		},
		ChartData:    chart,
		LinkStats:    linkStats,
		DeviceStats:  deviceStats,
		BrowserStats: browserStats,
	}, nil
}

func (r *Reader) linkStats(ctx context.Context, userID string, from, to time.Time) ([]LinkStat, error) {
	totals, err := r.rollups.ClicksByLink(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read per-link totals: %w", err)
	}

	stats := make([]LinkStat, 0, len(totals))
	for _, lt := range totals {
		stat := LinkStat{LinkID: lt.LinkID, Title: "Unknown", URL: "", Clicks: lt.Clicks}

		link, err := r.links.GetLink(ctx, lt.LinkID)
		switch {
		case err == nil:
			stat.Title = link.Title
			stat.URL = link.URL
			stat.Platform = link.Platform
		case errors.Is(err, storage.ErrNotFound):
			// Link deleted after accruing clicks; keep the orphaned total.
		default:
			return nil, fmt.Errorf("failed to join link %s: %w", lt.LinkID, err)
		}
		stats = append(stats, stat)
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Clicks > stats[j].Clicks
	})
	return stats, nil
}

// VariantStats returns a link's variants with their derived click rates.
func (r *Reader) VariantStats(ctx context.Context, linkID string) ([]VariantStat, error) {
	variants, err := r.variants.ListVariants(ctx, linkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}

	stats := make([]VariantStat, 0, len(variants))
	for _, v := range variants {
		rate := "0.00"
		if v.Impressions > 0 {
			rate = strconv.FormatFloat(float64(v.Clicks)/float64(v.Impressions)*100, 'f', 2, 64)
		}
		stats = append(stats, VariantStat{Variant: v, ClickRate: rate})
	}
	return stats, nil
}

// clickRate formats clicks/views as a percentage with one decimal. Zero
// views yields the literal "0", never NaN or a division error.
func clickRate(clicks, views int64) string {
	if views == 0 {
		return "0"
	}
	return strconv.FormatFloat(float64(clicks)/float64(views)*100, 'f', 1, 64)
}
