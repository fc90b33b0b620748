package presence

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/clinicpro/dictation-sync/internal/model"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateDeviceID returns an id of the form {role}-{unixMillis}-{5 base36}.
func GenerateDeviceID(role model.Role, now time.Time) string {
	var suffix [5]byte
	for i := range suffix {
		suffix[i] = base36[rand.IntN(len(base36))]
	}
	return string(role) + "-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + string(suffix[:])
}

// DeviceName derives a display name from a user-agent string, e.g.
// "iPhone Safari" or "Windows Chrome". It falls back to "Desktop Device" or
// "Mobile Device" when nothing is recognised.
func DeviceName(role model.Role, userAgent string) string {
	platform := detectPlatform(userAgent)
	browser := detectBrowser(userAgent)

	switch {
	case platform != "" && browser != "":
		return platform + " " + browser
	case platform != "":
		return platform
	case browser != "":
		return browser
	}
	return fallbackName(role)
}

func fallbackName(role model.Role) string {
	switch role {
	case model.RoleMobile:
		return "Mobile Device"
	case model.RoleDesktop:
		return "Desktop Device"
	}
	return "Unknown Device"
}

// Order matters: iPad and iPhone UAs mention "Mac OS X", Android UAs
// mention "Linux".
func detectPlatform(ua string) string {
	switch {
	case strings.Contains(ua, "iPhone"):
		return "iPhone"
	case strings.Contains(ua, "iPad"):
		return "iPad"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "Macintosh"), strings.Contains(ua, "Mac OS"):
		return "Mac"
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	}
	return ""
}

// Order matters: Edge UAs mention Chrome, Chrome UAs mention Safari.
func detectBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "Edg/"), strings.Contains(ua, "Edge/"):
		return "Edge"
	case strings.Contains(ua, "Firefox/"), strings.Contains(ua, "FxiOS/"):
		return "Firefox"
	case strings.Contains(ua, "Chrome/"), strings.Contains(ua, "CriOS/"):
		return "Chrome"
	case strings.Contains(ua, "Safari/"):
		return "Safari"
	}
	return ""
}
