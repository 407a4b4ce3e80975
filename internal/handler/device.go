package handler

import (
	"strings"

	"github.com/mssola/useragent"
	"github.com/samber/lo"
)

const (
	DeviceBot     = "bot"
	DeviceTablet  = "tablet"
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
	DeviceUnknown = "unknown"
)

var (
	botMarkers    = []string{"bot", "crawler", "spider", "slurp", "facebookexternalhit", "preview", "curl", "wget"}
	tabletMarkers = []string{"ipad", "tablet", "kindle", "silk", "playbook"}
)

// classifyDevice buckets a user agent into the coarse device classes the
// referrer/device rollups are keyed by. The parser has no notion of
// tablets, so those are picked out by marker first.
func classifyDevice(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return DeviceUnknown
	}
	ua := useragent.New(userAgent)
	lower := strings.ToLower(userAgent)

	switch {
	case ua.Bot() || containsAny(lower, botMarkers):
		return DeviceBot
	case containsAny(lower, tabletMarkers):
		return DeviceTablet
	// Android tablets leave "mobile" out of the user agent.
	case strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"):
		return DeviceTablet
	case ua.Mobile():
		return DeviceMobile
	}
	return DeviceDesktop
}

func containsAny(s string, markers []string) bool {
	return lo.ContainsBy(markers, func(m string) bool {
		return strings.Contains(s, m)
	})
}
