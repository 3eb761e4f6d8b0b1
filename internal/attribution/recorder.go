// Package attribution records click and view events and routes A/B traffic.
//
// The recorder is deliberately failure-tolerant: once a link resolves, every
// storage write is best-effort. A broken event store must never cost a
// visitor their redirect; failures are logged and counted, not returned.
package attribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/velto/linkpage/internal/geo"
	"github.com/velto/linkpage/internal/metrics"
	"github.com/velto/linkpage/internal/models"
	"github.com/velto/linkpage/internal/storage"
)

// RequestMeta carries the raw request strings attribution derives its
// device fields from. All three are length-capped at ingestion.
type RequestMeta struct {
	IP        string
	UserAgent string
	Referrer  string
}

// ClickResult is what the redirect endpoint needs back: the resolved
// target, plus which variant (if any) the visitor was routed to.
type ClickResult struct {
	LinkID    string `json:"link_id"`
	Title     string `json:"title"`
	URL       string `json:"redirect_url"`
	VariantID string `json:"variant_id,omitempty"`
}

// Recorder implements click and view attribution.
type Recorder struct {
	links    storage.LinkRepo
	variants storage.VariantRepo
	events   storage.EventStore
	rollups  storage.RollupStore
	cache    storage.LinkCache
	geo      geo.Provider
	rng      Rand
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// RecorderOptions bundles the optional collaborators.
type RecorderOptions struct {
	Cache   storage.LinkCache
	Geo     geo.Provider
	Rng     Rand
	Metrics *metrics.Metrics
}

// NewRecorder constructs a Recorder. Cache, geo and metrics may be left
// unset; the rng defaults to a time-seeded locked source.
func NewRecorder(links storage.LinkRepo, variants storage.VariantRepo, events storage.EventStore,
	rollups storage.RollupStore, logger *zap.Logger, opts RecorderOptions) *Recorder {
	rng := opts.Rng
	if rng == nil {
		rng = NewLockedRand(time.Now().UnixNano())
	}
	return &Recorder{
		links:    links,
		variants: variants,
		events:   events,
		rollups:  rollups,
		cache:    opts.Cache,
		geo:      opts.Geo,
		rng:      rng,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// resolve loads the link and its variants, consulting the cache first.
// Cache failures fall through to storage and are log-only.
func (r *Recorder) resolve(ctx context.Context, linkID string) (*models.Link, []*models.LinkVariant, error) {
	if r.cache != nil {
		cl, err := r.cache.Get(ctx, linkID)
		if err == nil {
			if r.metrics != nil {
				r.metrics.RecordCacheHit(true)
			}
			return cl.Link, cl.Variants, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("link cache read failed", zap.String("link_id", linkID), zap.Error(err))
		}
		if r.metrics != nil {
			r.metrics.RecordCacheHit(false)
		}
	}

	link, err := r.links.GetLink(ctx, linkID)
	if err != nil {
		return nil, nil, err
	}
	variants, err := r.variants.ListVariants(ctx, linkID)
	if err != nil {
		// The base link is enough to serve the redirect; selection will
		// fall back and the inconsistency gets logged there.
		r.logger.Warn("variant lookup failed", zap.String("link_id", linkID), zap.Error(err))
		variants = nil
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, &storage.CachedLink{Link: link, Variants: variants}); err != nil {
			r.logger.Warn("link cache write failed", zap.String("link_id", linkID), zap.Error(err))
		}
	}
	return link, variants, nil
}

// selectTarget runs variant selection and downgrades configuration
// inconsistencies to a logged warning plus the base-link fallback.
func (r *Recorder) selectTarget(link *models.Link, variants []*models.LinkVariant, trigger string) Selection {
	sel, err := SelectTarget(link, variants, r.rng)
	if err != nil {
		r.logger.Warn("variant selection degraded to base link",
			zap.String("link_id", link.ID),
			zap.Error(err),
		)
	}
	if sel.VariantID != "" && r.metrics != nil {
		r.metrics.RecordSelection(trigger)
	}
	return sel
}

// RecordClick resolves linkID, routes the visitor through variant selection,
// and records the attribution trail: one raw event row, one daily rollup
// increment, and (when a variant was chosen) the variant's click counter.
//
// Returns storage.ErrNotFound when the link does not exist. Any failure
// after resolution is logged and swallowed; the redirect URL always comes
// back to the caller.
func (r *Recorder) RecordClick(ctx context.Context, linkID string, meta RequestMeta) (*ClickResult, error) {
	start := time.Now()

	link, variants, err := r.resolve(ctx, linkID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("link %s: %w", linkID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve link %s: %w", linkID, err)
	}

	sel := r.selectTarget(link, variants, "click")
	now := time.Now().UTC()
	device := ParseUserAgent(meta.UserAgent)

	country := ""
	if r.geo != nil && meta.IP != "" {
		country = r.geo.Country(meta.IP)
	}

	click := &models.LinkClick{
		ID:         uuid.New().String(),
		LinkID:     link.ID,
		UserID:     link.UserID,
		VariantID:  sel.VariantID,
		Timestamp:  now,
		IP:         models.Truncate(meta.IP, models.MaxIPLen),
		UserAgent:  models.Truncate(meta.UserAgent, models.MaxUserAgentLen),
		Referrer:   models.Truncate(meta.Referrer, models.MaxReferrerLen),
		DeviceType: device.Type,
		Browser:    device.Browser,
		OS:         device.OS,
		Country:    country,
	}

	// Raw event first: the raw log is the source of truth and rollups are
	// re-derivable from it.
	if err := r.events.SaveClick(ctx, click); err != nil {
		r.trackingFailure("event", link.ID, err)
	}
	if err := r.rollups.IncrementLinkClicks(ctx, link.ID, link.UserID, now); err != nil {
		r.trackingFailure("rollup", link.ID, err)
	}
	if sel.VariantID != "" {
		if err := r.variants.IncrementClicks(ctx, sel.VariantID); err != nil {
			r.trackingFailure("variant_counter", link.ID, err)
		}
	}

	if r.metrics != nil {
		r.metrics.RecordClick(sel.VariantID != "", time.Since(start))
	}
	r.logger.Debug("click recorded",
		zap.String("click_id", click.ID),
		zap.String("link_id", link.ID),
		zap.String("variant_id", sel.VariantID),
		zap.String("device_type", device.Type),
	)

	return &ClickResult{
		LinkID:    link.ID,
		Title:     sel.Title,
		URL:       sel.URL,
		VariantID: sel.VariantID,
	}, nil
}

// ResolveForView returns the target to render for a link on a profile page.
// Unlike RecordClick it increments the chosen variant's impression counter,
// the view-time half of the impression/click pair.
func (r *Recorder) ResolveForView(ctx context.Context, linkID string) (*ClickResult, error) {
	link, variants, err := r.resolve(ctx, linkID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("link %s: %w", linkID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve link %s: %w", linkID, err)
	}

	sel := r.selectTarget(link, variants, "view")
	if sel.VariantID != "" {
		if err := r.variants.IncrementImpressions(ctx, sel.VariantID); err != nil {
			r.trackingFailure("impression_counter", link.ID, err)
		}
	}

	return &ClickResult{
		LinkID:    link.ID,
		Title:     sel.Title,
		URL:       sel.URL,
		VariantID: sel.VariantID,
	}, nil
}

// RecordView upserts the (userID, today) profile-view rollup. Callers on
// the page-render path invoke it fire-and-forget.
func (r *Recorder) RecordView(ctx context.Context, userID string) error {
	if err := r.rollups.IncrementProfileViews(ctx, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record profile view: %w", err)
	}
	if r.metrics != nil {
		r.metrics.RecordProfileView()
	}
	return nil
}

func (r *Recorder) trackingFailure(stage, linkID string, err error) {
	r.logger.Error("attribution write failed",
		zap.String("stage", stage),
		zap.String("link_id", linkID),
		zap.Error(err),
	)
	if r.metrics != nil {
		r.metrics.RecordTrackingFailure(stage)
	}
}
