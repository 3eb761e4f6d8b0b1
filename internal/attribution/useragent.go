package attribution

import (
	"strings"
)

// DeviceInfo holds the normalized device fields derived from a raw
// user-agent string.
type DeviceInfo struct {
	Type    string // mobile, tablet, desktop
	Browser string
	OS      string
}

// ParseUserAgent derives device type, browser and OS from a raw user-agent
// via substring matching. Ordering matters: Edge and Opera advertise Chrome
// tokens so they are checked before generic Chrome, Chrome advertises
// Safari so Safari comes last, and Android advertises Linux so Linux comes
// last of the OS checks.
func ParseUserAgent(raw string) DeviceInfo {
	ua := strings.ToLower(raw)

	info := DeviceInfo{Type: "desktop", Browser: "unknown", OS: "unknown"}
	if ua == "" {
		return info
	}

	// Tablet tokens first: an iPad UA also contains mobile markers.
	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		info.Type = "tablet"
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		info.Type = "mobile"
	}

	switch {
	case strings.Contains(ua, "edg"):
		info.Browser = "Edge"
	case strings.Contains(ua, "firefox"):
		info.Browser = "Firefox"
	case strings.Contains(ua, "opr") || strings.Contains(ua, "opera"):
		info.Browser = "Opera"
	case strings.Contains(ua, "chrome") || strings.Contains(ua, "crios"):
		info.Browser = "Chrome"
	case strings.Contains(ua, "safari"):
		info.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "windows"):
		info.OS = "Windows"
	case strings.Contains(ua, "android"):
		info.OS = "Android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		info.OS = "iOS"
	case strings.Contains(ua, "mac os") || strings.Contains(ua, "macintosh"):
		info.OS = "macOS"
	case strings.Contains(ua, "linux"):
		info.OS = "Linux"
	}

	return info
}
