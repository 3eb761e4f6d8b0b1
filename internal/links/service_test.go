package links

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/velto/linkpage/internal/entitlements"
	"github.com/velto/linkpage/internal/models"
	"github.com/velto/linkpage/internal/storage"
)

func intPtr(v int) *int { return &v }

func newTestService(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	svc := NewService(store, store, store, nil, zap.NewNop())
	return svc, store
}

func seedUser(t *testing.T, store *storage.MemoryStore, id string, tier models.Tier) {
	t.Helper()
	require.NoError(t, store.UpsertUser(context.Background(), &models.User{
		ID: id, Username: id, Tier: tier,
	}))
}

func createLink(t *testing.T, svc *Service, userID string) *models.Link {
	t.Helper()
	link, err := svc.CreateLink(context.Background(), userID, LinkInput{
		Title: "My Store",
		URL:   "https://example.com/store",
	})
	require.NoError(t, err)
	return link
}

func TestCreateLink(t *testing.T) {
	ctx := context.Background()

	t.Run("creates with defaults", func(t *testing.T) {
		svc, store := newTestService(t)
		seedUser(t, store, "user-1", models.TierFree)

		link, err := svc.CreateLink(ctx, "user-1", LinkInput{
			Title: "My Store", URL: "https://example.com/store",
		})

		require.NoError(t, err)
		assert.NotEmpty(t, link.ID)
		assert.True(t, link.Active)
		assert.False(t, link.ABTestingEnabled)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		svc, store := newTestService(t)
		seedUser(t, store, "user-1", models.TierFree)

		_, err := svc.CreateLink(ctx, "user-1", LinkInput{URL: "https://example.com"})
		assert.ErrorIs(t, err, ErrInvalid)

		_, err = svc.CreateLink(ctx, "user-1", LinkInput{Title: "No URL"})
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("rejects unknown user", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.CreateLink(ctx, "ghost", LinkInput{
			Title: "x", URL: "https://example.com",
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestOwnership(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seedUser(t, store, "alice", models.TierPro)
	seedUser(t, store, "bob", models.TierPro)
	link := createLink(t, svc, "alice")

	t.Run("foreign link reads as not found", func(t *testing.T) {
		_, err := svc.GetLink(ctx, "bob", link.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("foreign link cannot be deleted", func(t *testing.T) {
		err := svc.DeleteLink(ctx, "bob", link.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = svc.GetLink(ctx, "alice", link.ID)
		assert.NoError(t, err)
	})
}

func TestCreateVariant(t *testing.T) {
	ctx := context.Background()

	t.Run("clamps weight into range", func(t *testing.T) {
		svc, store := newTestService(t)
		seedUser(t, store, "user-1", models.TierPro)
		link := createLink(t, svc, "user-1")

		v, err := svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{
			URL: "https://example.com/a", Weight: intPtr(150),
		})
		require.NoError(t, err)
		assert.Equal(t, 100, v.Weight)

		v, err = svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{
			URL: "https://example.com/b", Weight: intPtr(-5),
		})
		require.NoError(t, err)
		assert.Equal(t, 0, v.Weight)
	})

	t.Run("omitted weight takes the default", func(t *testing.T) {
		svc, store := newTestService(t)
		seedUser(t, store, "user-1", models.TierPro)
		link := createLink(t, svc, "user-1")

		v, err := svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{
			URL: "https://example.com/a",
		})
		require.NoError(t, err)
		assert.Equal(t, models.DefaultVariantWeight, v.Weight)
	})

	t.Run("free tier stops at the baseline pair", func(t *testing.T) {
		svc, store := newTestService(t)
		seedUser(t, store, "user-1", models.TierFree)
		link := createLink(t, svc, "user-1")

		for i := 0; i < entitlements.MinVariants; i++ {
			_, err := svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{
				URL: "https://example.com/v", Weight: intPtr(50),
			})
			require.NoError(t, err)
		}

		_, err := svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{
			URL: "https://example.com/third", Weight: intPtr(50),
		})

		var entErr *entitlements.EntitlementError
		require.ErrorAs(t, err, &entErr)
		assert.Equal(t, models.TierFree, entErr.Tier)
	})

	t.Run("hard cap applies to every tier", func(t *testing.T) {
		svc, store := newTestService(t)
		seedUser(t, store, "user-1", models.TierBusiness)
		link := createLink(t, svc, "user-1")

		for i := 0; i < entitlements.MaxVariants; i++ {
			_, err := svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{
				URL: "https://example.com/v", Weight: intPtr(25),
			})
			require.NoError(t, err)
		}

		_, err := svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{
			URL: "https://example.com/fifth", Weight: intPtr(25),
		})
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestSetABTesting(t *testing.T) {
	ctx := context.Background()

	t.Run("free tier cannot enable", func(t *testing.T) {
		svc, store := newTestService(t)
		seedUser(t, store, "user-1", models.TierFree)
		link := createLink(t, svc, "user-1")

		_, err := svc.SetABTesting(ctx, "user-1", link.ID, true)

		var entErr *entitlements.EntitlementError
		assert.ErrorAs(t, err, &entErr)
	})

	t.Run("needs two active variants", func(t *testing.T) {
		svc, store := newTestService(t)
		seedUser(t, store, "user-1", models.TierPro)
		link := createLink(t, svc, "user-1")

		_, err := svc.SetABTesting(ctx, "user-1", link.ID, true)
		assert.ErrorIs(t, err, ErrInvalid)

		_, err = svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{URL: "https://example.com/a", Weight: intPtr(50)})
		require.NoError(t, err)
		_, err = svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{URL: "https://example.com/b", Weight: intPtr(50)})
		require.NoError(t, err)

		updated, err := svc.SetABTesting(ctx, "user-1", link.ID, true)
		require.NoError(t, err)
		assert.True(t, updated.ABTestingEnabled)
	})

	t.Run("disable always allowed", func(t *testing.T) {
		svc, store := newTestService(t)
		seedUser(t, store, "user-1", models.TierFree)
		link := createLink(t, svc, "user-1")

		updated, err := svc.SetABTesting(ctx, "user-1", link.ID, false)
		require.NoError(t, err)
		assert.False(t, updated.ABTestingEnabled)
	})
}

func TestUpdateLinkPartial(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seedUser(t, store, "user-1", models.TierPro)

	platform := "youtube"
	icon := "yt"
	link, err := svc.CreateLink(ctx, "user-1", LinkInput{
		Title: "My Channel", URL: "https://example.com/channel",
		Platform: &platform, Icon: &icon, SortOrder: intPtr(3),
	})
	require.NoError(t, err)

	t.Run("title-only update leaves the rest alone", func(t *testing.T) {
		got, err := svc.UpdateLink(ctx, "user-1", link.ID, LinkInput{Title: "Renamed"})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Title)
		assert.Equal(t, "youtube", got.Platform)
		assert.Equal(t, "yt", got.Icon)
		assert.Equal(t, 3, got.SortOrder)
		assert.True(t, got.Active)
	})

	t.Run("explicit zero values still apply", func(t *testing.T) {
		empty := ""
		got, err := svc.UpdateLink(ctx, "user-1", link.ID, LinkInput{
			Platform: &empty, SortOrder: intPtr(0),
		})
		require.NoError(t, err)
		assert.Equal(t, "", got.Platform)
		assert.Equal(t, 0, got.SortOrder)
		assert.Equal(t, "yt", got.Icon)
	})
}

func TestUpdateVariantPartial(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seedUser(t, store, "user-1", models.TierPro)
	link := createLink(t, svc, "user-1")

	v, err := svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{
		Label: "control", URL: "https://example.com/a", Weight: intPtr(70),
	})
	require.NoError(t, err)

	got, err := svc.UpdateVariant(ctx, "user-1", v.ID, VariantInput{Label: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Label)
	assert.Equal(t, 70, got.Weight)
	assert.True(t, got.Active)

	stored, err := store.GetVariant(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, stored.Weight)
}

func TestVariantMutationFlipsFlag(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *storage.MemoryStore, *models.Link, []*models.LinkVariant) {
		svc, store := newTestService(t)
		seedUser(t, store, "user-1", models.TierPro)
		link := createLink(t, svc, "user-1")

		va, err := svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{URL: "https://example.com/a", Weight: intPtr(50)})
		require.NoError(t, err)
		vb, err := svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{URL: "https://example.com/b", Weight: intPtr(50)})
		require.NoError(t, err)

		_, err = svc.SetABTesting(ctx, "user-1", link.ID, true)
		require.NoError(t, err)

		return svc, store, link, []*models.LinkVariant{va, vb}
	}

	t.Run("deleting below minimum disables a/b", func(t *testing.T) {
		svc, store, link, variants := setup(t)

		require.NoError(t, svc.DeleteVariant(ctx, "user-1", variants[0].ID))

		got, err := store.GetLink(ctx, link.ID)
		require.NoError(t, err)
		assert.False(t, got.ABTestingEnabled)
	})

	t.Run("deactivating below minimum disables a/b", func(t *testing.T) {
		svc, store, link, variants := setup(t)

		inactive := false
		_, err := svc.UpdateVariant(ctx, "user-1", variants[1].ID, VariantInput{
			Weight: intPtr(50), Active: &inactive,
		})
		require.NoError(t, err)

		got, err := store.GetLink(ctx, link.ID)
		require.NoError(t, err)
		assert.False(t, got.ABTestingEnabled)
	})

	t.Run("flag survives while two stay active", func(t *testing.T) {
		svc, store, link, variants := setup(t)

		_, err := svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{URL: "https://example.com/c", Weight: intPtr(50)})
		require.NoError(t, err)

		require.NoError(t, svc.DeleteVariant(ctx, "user-1", variants[0].ID))

		got, err := store.GetLink(ctx, link.ID)
		require.NoError(t, err)
		assert.True(t, got.ABTestingEnabled)
	})
}

func TestFreeTierVariantMutations(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seedUser(t, store, "user-1", models.TierFree)
	link := createLink(t, svc, "user-1")

	v, err := svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{
		URL: "https://example.com/a", Weight: intPtr(50),
	})
	require.NoError(t, err)

	var entErr *entitlements.EntitlementError

	_, err = svc.UpdateVariant(ctx, "user-1", v.ID, VariantInput{Weight: intPtr(80)})
	assert.ErrorAs(t, err, &entErr)

	err = svc.DeleteVariant(ctx, "user-1", v.ID)
	assert.ErrorAs(t, err, &entErr)
}

func TestDeleteLinkRemovesVariants(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	seedUser(t, store, "user-1", models.TierPro)
	link := createLink(t, svc, "user-1")

	v, err := svc.CreateVariant(ctx, "user-1", link.ID, VariantInput{URL: "https://example.com/a", Weight: intPtr(50)})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteLink(ctx, "user-1", link.ID))

	_, err = store.GetLink(ctx, link.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetVariant(ctx, v.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
