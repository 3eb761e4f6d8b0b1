// Package links manages a user's curated links and their A/B variants.
// Mutations are ownership-checked, tier-gated, and keep the link's A/B flag
// consistent with its active-variant count.
package links

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/velto/linkpage/internal/entitlements"
	"github.com/velto/linkpage/internal/models"
	"github.com/velto/linkpage/internal/storage"
)

// ErrInvalid marks a request rejected by input validation. The HTTP layer
// maps it to 400.
var ErrInvalid = errors.New("invalid input")

// Service implements link and variant management.
type Service struct {
	users    storage.UserRepo
	links    storage.LinkRepo
	variants storage.VariantRepo
	cache    storage.LinkCache
	logger   *zap.Logger
}

// NewService constructs a Service. cache may be nil.
func NewService(users storage.UserRepo, links storage.LinkRepo, variants storage.VariantRepo,
	cache storage.LinkCache, logger *zap.Logger) *Service {
	return &Service{
		users:    users,
		links:    links,
		variants: variants,
		cache:    cache,
		logger:   logger,
	}
}

// LinkInput carries the owner-editable link fields. Pointer fields
// distinguish "omitted" from an explicit zero value, so updates only touch
// what the request actually sent.
type LinkInput struct {
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Platform  *string `json:"platform,omitempty"`
	Icon      *string `json:"icon,omitempty"`
	SortOrder *int    `json:"sort_order,omitempty"`
	Active    *bool   `json:"active,omitempty"`
}

// VariantInput carries the owner-editable variant fields. Weight is a
// pointer for the same omitted-vs-zero reason as LinkInput's fields.
type VariantInput struct {
	Label  string `json:"label"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Weight *int   `json:"weight,omitempty"`
	Active *bool  `json:"active,omitempty"`
}

// =============================================
// Links
// =============================================

// ListLinks returns userID's links in display order.
func (s *Service) ListLinks(ctx context.Context, userID string) ([]*models.Link, error) {
	return s.links.ListLinks(ctx, userID)
}

// GetLink returns the link if it exists and belongs to userID.
func (s *Service) GetLink(ctx context.Context, userID, linkID string) (*models.Link, error) {
	link, err := s.links.GetLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link.UserID != userID {
		// Foreign rows look exactly like missing ones to the caller.
		return nil, storage.ErrNotFound
	}
	return link, nil
}

// CreateLink creates a link for userID.
func (s *Service) CreateLink(ctx context.Context, userID string, in LinkInput) (*models.Link, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("title is required: %w", ErrInvalid)
	}
	if in.URL == "" {
		return nil, fmt.Errorf("url is required: %w", ErrInvalid)
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	link := &models.Link{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     in.Title,
		URL:       in.URL,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Platform != nil {
		link.Platform = *in.Platform
	}
	if in.Icon != nil {
		link.Icon = *in.Icon
	}
	if in.SortOrder != nil {
		link.SortOrder = *in.SortOrder
	}
	if in.Active != nil {
		link.Active = *in.Active
	}

	if err := s.links.UpsertLink(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}
	return link, nil
}

// UpdateLink applies in to an owned link.
func (s *Service) UpdateLink(ctx context.Context, userID, linkID string, in LinkInput) (*models.Link, error) {
	link, err := s.GetLink(ctx, userID, linkID)
	if err != nil {
		return nil, err
	}

	if in.Title != "" {
		link.Title = in.Title
	}
	if in.URL != "" {
		link.URL = in.URL
	}
	if in.Platform != nil {
		link.Platform = *in.Platform
	}
	if in.Icon != nil {
		link.Icon = *in.Icon
	}
	if in.SortOrder != nil {
		link.SortOrder = *in.SortOrder
	}
	if in.Active != nil {
		link.Active = *in.Active
	}
	link.UpdatedAt = time.Now().UTC()

	if err := s.links.UpsertLink(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to update link: %w", err)
	}
	s.invalidate(ctx, linkID)
	return link, nil
}

// DeleteLink removes an owned link and its variants. Historical click and
// rollup rows stay behind; analytics shows them as "Unknown".
func (s *Service) DeleteLink(ctx context.Context, userID, linkID string) error {
	if _, err := s.GetLink(ctx, userID, linkID); err != nil {
		return err
	}
	if err := s.links.DeleteLink(ctx, linkID); err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	s.invalidate(ctx, linkID)
	return nil
}

// SetABTesting turns A/B testing on or off for an owned link. Enabling
// requires the tier entitlement and at least two active variants.
func (s *Service) SetABTesting(ctx context.Context, userID, linkID string, enabled bool) (*models.Link, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	link, err := s.GetLink(ctx, userID, linkID)
	if err != nil {
		return nil, err
	}

	if enabled {
		if !entitlements.IsABTestingAllowed(user.Tier) {
			return nil, entitlements.NewEntitlementError(user.Tier,
				"A/B testing requires a Pro or Business plan")
		}
		active, err := s.countActiveVariants(ctx, linkID)
		if err != nil {
			return nil, err
		}
		if active < entitlements.MinVariants {
			return nil, fmt.Errorf("a/b testing needs at least %d active variants, have %d: %w",
				entitlements.MinVariants, active, ErrInvalid)
		}
	}

	if err := s.links.SetABTesting(ctx, linkID, enabled); err != nil {
		return nil, fmt.Errorf("failed to toggle a/b testing: %w", err)
	}
	s.invalidate(ctx, linkID)

	link.ABTestingEnabled = enabled
	return link, nil
}

// =============================================
// Variants
// =============================================

// GetVariant returns the variant if its link belongs to userID.
func (s *Service) GetVariant(ctx context.Context, userID, variantID string) (*models.LinkVariant, error) {
	_, variant, err := s.ownedVariant(ctx, userID, variantID)
	if err != nil {
		return nil, err
	}
	return variant, nil
}

// ListVariants returns an owned link's variants in creation order.
func (s *Service) ListVariants(ctx context.Context, userID, linkID string) ([]*models.LinkVariant, error) {
	if _, err := s.GetLink(ctx, userID, linkID); err != nil {
		return nil, err
	}
	return s.variants.ListVariants(ctx, linkID)
}

// CreateVariant adds a variant to an owned link. Any tier may hold the two
// baseline variants; going beyond that, like every other variant mutation,
// needs the A/B entitlement. MaxVariants is a hard cap for all tiers.
func (s *Service) CreateVariant(ctx context.Context, userID, linkID string, in VariantInput) (*models.LinkVariant, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetLink(ctx, userID, linkID); err != nil {
		return nil, err
	}
	if in.URL == "" {
		return nil, fmt.Errorf("url is required: %w", ErrInvalid)
	}

	existing, err := s.variants.ListVariants(ctx, linkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	if len(existing) >= entitlements.MaxVariants {
		return nil, fmt.Errorf("a link holds at most %d variants: %w", entitlements.MaxVariants, ErrInvalid)
	}
	if len(existing) >= entitlements.MinVariants && !entitlements.IsABTestingAllowed(user.Tier) {
		return nil, entitlements.NewEntitlementError(user.Tier,
			"more than %d variants require a Pro or Business plan", entitlements.MinVariants)
	}

	variant := &models.LinkVariant{
		ID:        uuid.New().String(),
		LinkID:    linkID,
		Label:     in.Label,
		Title:     in.Title,
		URL:       in.URL,
		Weight:    models.DefaultVariantWeight,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if in.Weight != nil {
		variant.Weight = clampWeight(*in.Weight)
	}
	if in.Active != nil {
		variant.Active = *in.Active
	}

	if err := s.variants.UpsertVariant(ctx, variant); err != nil {
		return nil, fmt.Errorf("failed to create variant: %w", err)
	}
	s.invalidate(ctx, linkID)
	return variant, nil
}

// UpdateVariant applies in to an owned variant. Requires the A/B
// entitlement. Deactivating a variant may flip the link's A/B flag off.
func (s *Service) UpdateVariant(ctx context.Context, userID, variantID string, in VariantInput) (*models.LinkVariant, error) {
	user, variant, err := s.ownedVariant(ctx, userID, variantID)
	if err != nil {
		return nil, err
	}
	if !entitlements.IsABTestingAllowed(user.Tier) {
		return nil, entitlements.NewEntitlementError(user.Tier,
			"editing variants requires a Pro or Business plan")
	}

	if in.Label != "" {
		variant.Label = in.Label
	}
	if in.Title != "" {
		variant.Title = in.Title
	}
	if in.URL != "" {
		variant.URL = in.URL
	}
	if in.Weight != nil {
		variant.Weight = clampWeight(*in.Weight)
	}
	if in.Active != nil {
		variant.Active = *in.Active
	}

	if err := s.variants.UpsertVariant(ctx, variant); err != nil {
		return nil, fmt.Errorf("failed to update variant: %w", err)
	}
	if err := s.enforceMinimumActive(ctx, variant.LinkID); err != nil {
		return nil, err
	}
	s.invalidate(ctx, variant.LinkID)
	return variant, nil
}

// DeleteVariant removes an owned variant. Requires the A/B entitlement.
// Dropping the active count below two flips the link's A/B flag off.
func (s *Service) DeleteVariant(ctx context.Context, userID, variantID string) error {
	user, variant, err := s.ownedVariant(ctx, userID, variantID)
	if err != nil {
		return err
	}
	if !entitlements.IsABTestingAllowed(user.Tier) {
		return entitlements.NewEntitlementError(user.Tier,
			"deleting variants requires a Pro or Business plan")
	}

	if err := s.variants.DeleteVariant(ctx, variantID); err != nil {
		return fmt.Errorf("failed to delete variant: %w", err)
	}
	if err := s.enforceMinimumActive(ctx, variant.LinkID); err != nil {
		return err
	}
	s.invalidate(ctx, variant.LinkID)
	return nil
}

// =============================================
// Internals
// =============================================

// ownedVariant loads a variant and proves the chain variant → link → user.
func (s *Service) ownedVariant(ctx context.Context, userID, variantID string) (*models.User, *models.LinkVariant, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	variant, err := s.variants.GetVariant(ctx, variantID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.GetLink(ctx, userID, variant.LinkID); err != nil {
		return nil, nil, err
	}
	return user, variant, nil
}

func (s *Service) countActiveVariants(ctx context.Context, linkID string) (int, error) {
	variants, err := s.variants.ListVariants(ctx, linkID)
	if err != nil {
		return 0, fmt.Errorf("failed to list variants: %w", err)
	}
	active := 0
	for _, v := range variants {
		if v.Active {
			active++
		}
	}
	return active, nil
}

// enforceMinimumActive flips the link's A/B flag off when its active
// variant count has dropped below the minimum.
func (s *Service) enforceMinimumActive(ctx context.Context, linkID string) error {
	link, err := s.links.GetLink(ctx, linkID)
	if err != nil {
		return err
	}
	if !link.ABTestingEnabled {
		return nil
	}

	active, err := s.countActiveVariants(ctx, linkID)
	if err != nil {
		return err
	}
	if active < entitlements.MinVariants {
		s.logger.Info("disabling a/b testing, active variants below minimum",
			zap.String("link_id", linkID),
			zap.Int("active", active),
		)
		if err := s.links.SetABTesting(ctx, linkID, false); err != nil {
			return fmt.Errorf("failed to disable a/b testing: %w", err)
		}
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, linkID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, linkID); err != nil {
		s.logger.Warn("link cache invalidation failed", zap.String("link_id", linkID), zap.Error(err))
	}
}

func clampWeight(w int) int {
	if w < 0 {
		return 0
	}
	if w > 100 {
		return 100
	}
	return w
}
