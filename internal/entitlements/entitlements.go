// Package entitlements answers tier-gating questions. It only answers
// yes/no; enforcement happens at the calling service.
package entitlements

import (
	"fmt"

	"github.com/velto/linkpage/internal/models"
)

// Variant count bounds for a link participating in A/B testing. MaxVariants
// is a global constant, not tier-dependent.
const (
	MinVariants = 2
	MaxVariants = 4
)

// Analytics window bounds in days. Free accounts are limited to the default
// window; pro and business unlock the advanced ones.
const (
	DefaultWindowDays = 7
	MaxWindowDays     = 90
)

// EntitlementError reports a tier-gated action the account is not allowed
// to perform. The reason is user-facing.
type EntitlementError struct {
	Tier   models.Tier
	Reason string
}

func (e *EntitlementError) Error() string {
	return fmt.Sprintf("tier %q: %s", e.Tier, e.Reason)
}

// NewEntitlementError builds an EntitlementError with a formatted reason.
func NewEntitlementError(tier models.Tier, format string, args ...interface{}) *EntitlementError {
	return &EntitlementError{Tier: tier, Reason: fmt.Sprintf(format, args...)}
}

// IsABTestingAllowed reports whether the tier may create or mutate link
// variants and toggle A/B testing.
func IsABTestingAllowed(tier models.Tier) bool {
	return tier == models.TierPro || tier == models.TierBusiness
}

// IsAdvancedAnalyticsAllowed reports whether the tier may request analytics
// windows beyond the default 7 days.
func IsAdvancedAnalyticsAllowed(tier models.Tier) bool {
	return tier == models.TierPro || tier == models.TierBusiness
}
