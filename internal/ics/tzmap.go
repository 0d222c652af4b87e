package ics

import (
	"regexp"
	"strings"
)

// windowsZones maps Windows time zone names, as emitted by Exchange and
// Outlook feeds, to IANA identifiers. Only read after package init.
var windowsZones = map[string]string{
	"FLE Standard Time":              "Europe/Vilnius",
	"GTB Standard Time":              "Europe/Bucharest",
	"E. Europe Standard Time":        "Europe/Chisinau",
	"W. Europe Standard Time":        "Europe/Berlin",
	"Central Europe Standard Time":   "Europe/Budapest",
	"Central European Standard Time": "Europe/Warsaw",
	"Romance Standard Time":          "Europe/Paris",
	"GMT Standard Time":              "Europe/London",
	"Greenwich Standard Time":        "Atlantic/Reykjavik",
	"Russian Standard Time":          "Europe/Moscow",
	"Turkey Standard Time":           "Europe/Istanbul",
	"Israel Standard Time":           "Asia/Jerusalem",
	"Arabian Standard Time":          "Asia/Dubai",
	"India Standard Time":            "Asia/Kolkata",
	"China Standard Time":            "Asia/Shanghai",
	"Singapore Standard Time":        "Asia/Singapore",
	"Tokyo Standard Time":            "Asia/Tokyo",
	"Korea Standard Time":            "Asia/Seoul",
	"AUS Eastern Standard Time":      "Australia/Sydney",
	"New Zealand Standard Time":      "Pacific/Auckland",
	"Hawaiian Standard Time":         "Pacific/Honolulu",
	"Alaskan Standard Time":          "America/Anchorage",
	"Pacific Standard Time":          "America/Los_Angeles",
	"Mountain Standard Time":         "America/Denver",
	"US Mountain Standard Time":      "America/Phoenix",
	"Central Standard Time":          "America/Chicago",
	"Eastern Standard Time":          "America/New_York",
	"Atlantic Standard Time":         "America/Halifax",
	"E. South America Standard Time": "America/Sao_Paulo",
	"UTC":                            "Etc/UTC",
}

// tzidPattern matches a TZID property (`TZID:<name>` inside VTIMEZONE) or
// parameter (`;TZID=<name>` / `;TZID="<name>"`), capturing the name.
var tzidPattern = regexp.MustCompile(`(?m)(^|;)(TZID[:=]"?)([^";:\r\n]+)`)

// IANAZone returns the IANA identifier for a Windows zone name.
func IANAZone(windowsName string) (string, bool) {
	iana, ok := windowsZones[strings.TrimSpace(windowsName)]
	return iana, ok
}

// RewriteWindowsTimezones replaces Windows zone names in TZID declarations
// and parameters with their IANA equivalents. Unknown names are untouched.
// It works on raw feed text because the parser only understands IANA names.
func RewriteWindowsTimezones(text string) string {
	if !strings.Contains(text, "TZID") {
		return text
	}
	return tzidPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := tzidPattern.FindStringSubmatch(m)
		if sub == nil {
			return m
		}
		iana, ok := IANAZone(sub[3])
		if !ok {
			return m
		}
		return sub[1] + sub[2] + iana
	})
}
