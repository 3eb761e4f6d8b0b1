package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/velto/linkpage/internal/config"
	"github.com/velto/linkpage/internal/models"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	return NewServer(&Dependencies{
		Config: &config.Config{},
		Logger: zap.NewNop(),
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func createTestUser(t *testing.T, h http.Handler, username string, tier models.Tier) models.User {
	t.Helper()

	rec := doJSON(t, h, http.MethodPost, "/users", map[string]string{
		"username": username,
		"tier":     string(tier),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var u models.User
	decode(t, rec, &u)
	return u
}

func createTestLink(t *testing.T, h http.Handler, userID string) models.Link {
	t.Helper()

	rec := doJSON(t, h, http.MethodPost, "/links?user_id="+userID, map[string]string{
		"title": "My Store",
		"url":   "https://example.com/store",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var l models.Link
	decode(t, rec, &l)
	return l
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRedirectEndpoint(t *testing.T) {
	h := newTestServer(t)
	user := createTestUser(t, h, "casey", models.TierFree)
	link := createTestLink(t, h, user.ID)

	t.Run("GET issues a 302", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/r/"+link.ID, nil)

		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://example.com/store", rec.Header().Get("Location"))
	})

	t.Run("POST returns the target as JSON", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/r/"+link.ID, nil)

		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			RedirectURL string `json:"redirect_url"`
		}
		decode(t, rec, &body)
		assert.Equal(t, "https://example.com/store", body.RedirectURL)
	})

	t.Run("unknown link is 404", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/r/no-such-link", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("clicks show up in analytics", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/analytics?user_id="+user.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var report struct {
			Summary struct {
				TotalClicks int64 `json:"total_clicks"`
			} `json:"summary"`
		}
		decode(t, rec, &report)
		assert.GreaterOrEqual(t, report.Summary.TotalClicks, int64(2))
	})
}

func TestProfileViewEndpoint(t *testing.T) {
	h := newTestServer(t)
	user := createTestUser(t, h, "casey", models.TierFree)
	createTestLink(t, h, user.ID)

	t.Run("by username", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/v/casey", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			User  models.User       `json:"user"`
			Links []json.RawMessage `json:"links"`
		}
		decode(t, rec, &body)
		assert.Equal(t, user.ID, body.User.ID)
		assert.Len(t, body.Links, 1)
	})

	t.Run("unknown profile is 404", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/v/nobody", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestVariantEndpoints(t *testing.T) {
	h := newTestServer(t)
	pro := createTestUser(t, h, "pro-user", models.TierPro)
	free := createTestUser(t, h, "free-user", models.TierFree)
	link := createTestLink(t, h, pro.ID)

	variantsPath := fmt.Sprintf("/links/%s/variants?user_id=%s", link.ID, pro.ID)

	t.Run("create and enable a/b", func(t *testing.T) {
		for _, url := range []string{"https://example.com/a", "https://example.com/b"} {
			rec := doJSON(t, h, http.MethodPost, variantsPath, map[string]interface{}{
				"url": url, "weight": 50,
			})
			require.Equal(t, http.StatusOK, rec.Code)
		}

		rec := doJSON(t, h, http.MethodPost,
			fmt.Sprintf("/links/%s/abtest?user_id=%s", link.ID, pro.ID),
			map[string]bool{"enabled": true})
		require.Equal(t, http.StatusOK, rec.Code)

		var l models.Link
		decode(t, rec, &l)
		assert.True(t, l.ABTestingEnabled)
	})

	t.Run("redirect now selects a variant", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/r/"+link.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			RedirectURL string `json:"redirect_url"`
			VariantID   string `json:"variant_id"`
		}
		decode(t, rec, &body)
		assert.NotEmpty(t, body.VariantID)
		assert.Contains(t, []string{"https://example.com/a", "https://example.com/b"}, body.RedirectURL)
	})

	t.Run("free tier enable is 403 with reason", func(t *testing.T) {
		freeLink := createTestLink(t, h, free.ID)

		rec := doJSON(t, h, http.MethodPost,
			fmt.Sprintf("/links/%s/abtest?user_id=%s", freeLink.ID, free.ID),
			map[string]bool{"enabled": true})

		require.Equal(t, http.StatusForbidden, rec.Code)

		var body struct {
			Error string `json:"error"`
			Tier  string `json:"tier"`
		}
		decode(t, rec, &body)
		assert.Equal(t, "free", body.Tier)
		assert.NotEmpty(t, body.Error)
	})

	t.Run("foreign variants are 404", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet,
			fmt.Sprintf("/links/%s/variants?user_id=%s", link.ID, free.ID), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAnalyticsEndpoint(t *testing.T) {
	h := newTestServer(t)
	free := createTestUser(t, h, "free-user", models.TierFree)
	pro := createTestUser(t, h, "pro-user", models.TierPro)

	t.Run("requires user_id", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/analytics", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects out-of-range windows", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/analytics?user_id="+pro.ID+"&days=365", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("free tier is limited to the default window", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/analytics?user_id="+free.ID+"&days=30", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = doJSON(t, h, http.MethodGet, "/analytics?user_id="+free.ID+"&days=7", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("pro tier gets the long window", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/analytics?user_id="+pro.ID+"&days=90", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var report struct {
			ChartData []struct {
				Date string `json:"date"`
			} `json:"chart_data"`
		}
		decode(t, rec, &report)
		assert.Len(t, report.ChartData, 91)
	})
}
