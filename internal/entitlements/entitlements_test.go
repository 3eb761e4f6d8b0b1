package entitlements

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/velto/linkpage/internal/models"
)

func TestIsABTestingAllowed(t *testing.T) {
	assert.False(t, IsABTestingAllowed(models.TierFree))
	assert.True(t, IsABTestingAllowed(models.TierPro))
	assert.True(t, IsABTestingAllowed(models.TierBusiness))
	assert.False(t, IsABTestingAllowed(models.Tier("enterprise")))
}

func TestIsAdvancedAnalyticsAllowed(t *testing.T) {
	assert.False(t, IsAdvancedAnalyticsAllowed(models.TierFree))
	assert.True(t, IsAdvancedAnalyticsAllowed(models.TierPro))
	assert.True(t, IsAdvancedAnalyticsAllowed(models.TierBusiness))
}

func TestEntitlementError(t *testing.T) {
	err := NewEntitlementError(models.TierFree, "at most %d variants", 2)

	assert.Equal(t, models.TierFree, err.Tier)
	assert.Equal(t, "at most 2 variants", err.Reason)
	assert.Contains(t, err.Error(), "free")
	assert.Contains(t, err.Error(), "at most 2 variants")
}
