package attribution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		device  string
		browser string
		os      string
	}{
		{
			name:    "empty string defaults",
			ua:      "",
			device:  "desktop",
			browser: "unknown",
			os:      "unknown",
		},
		{
			name:    "chrome on windows desktop",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			device:  "desktop",
			browser: "Chrome",
			os:      "Windows",
		},
		{
			name:    "edge detected before chrome",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			device:  "desktop",
			browser: "Edge",
			os:      "Windows",
		},
		{
			name:    "opera detected before chrome",
			ua:      "Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 OPR/105.0.0.0",
			device:  "desktop",
			browser: "Opera",
			os:      "Windows",
		},
		{
			name:    "safari on iphone is mobile",
			ua:      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
			device:  "mobile",
			browser: "Safari",
			os:      "iOS",
		},
		{
			name:    "ipad is tablet despite mobile token",
			ua:      "Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1",
			device:  "tablet",
			browser: "Safari",
			os:      "iOS",
		},
		{
			name:    "chrome on android is mobile not linux",
			ua:      "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
			device:  "mobile",
			browser: "Chrome",
			os:      "Android",
		},
		{
			name:    "firefox on linux",
			ua:      "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			device:  "desktop",
			browser: "Firefox",
			os:      "Linux",
		},
		{
			name:    "safari on macos",
			ua:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
			device:  "desktop",
			browser: "Safari",
			os:      "macOS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ParseUserAgent(tt.ua)
			assert.Equal(t, tt.device, info.Type)
			assert.Equal(t, tt.browser, info.Browser)
			assert.Equal(t, tt.os, info.OS)
		})
	}
}
