package models

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	t.Run("short strings pass through", func(t *testing.T) {
		assert.Equal(t, "hello", Truncate("hello", MaxIPLen))
		assert.Equal(t, "", Truncate("", 10))
	})

	t.Run("caps at the byte limit", func(t *testing.T) {
		long := strings.Repeat("a", MaxUserAgentLen+100)
		got := Truncate(long, MaxUserAgentLen)
		assert.Len(t, got, MaxUserAgentLen)
	})

	t.Run("backs off a cut inside a multibyte rune", func(t *testing.T) {
		// 498 ASCII bytes followed by a 3-byte rune straddling the cap.
		ua := strings.Repeat("a", MaxUserAgentLen-2) + "日本語"
		got := Truncate(ua, MaxUserAgentLen)
		assert.True(t, utf8.ValidString(got))
		assert.Equal(t, MaxUserAgentLen-2, len(got))
		assert.True(t, strings.HasSuffix(got, "a"))
	})

	t.Run("never splits referrer URLs mid rune", func(t *testing.T) {
		ref := "https://example.com/?q=" + strings.Repeat("é", MaxReferrerLen)
		got := Truncate(ref, MaxReferrerLen)
		assert.True(t, utf8.ValidString(got))
		assert.LessOrEqual(t, len(got), MaxReferrerLen)
	})
}

func TestDay(t *testing.T) {
	ts := time.Date(2025, 3, 14, 23, 59, 59, 1, time.FixedZone("CET", 3600))
	got := Day(ts)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.UTC, got.Location())
}
