package whois

import (
	"regexp"
	"strings"
	"time"
)

// notFoundMarkers are the sentinels registries print for unregistered names.
// Matched case-insensitively against the whole response.
var notFoundMarkers = []string{
	"no match",
	"not found",
	"no entries found",
	"no data found",
	"status: free",
	"is available for registration",
}

// expiryPatterns are tried in order; the first capture wins. Labels vary
// wildly across registries, date formats even more so — parseDate handles
// the format side.
var expiryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)registry expiry date:\s*(\S+)`),
	regexp.MustCompile(`(?i)registrar registration expiration date:\s*(\S+)`),
	regexp.MustCompile(`(?i)expiration date:\s*(\S+)`),
	regexp.MustCompile(`(?i)expiry date:\s*(\S+)`),
	regexp.MustCompile(`(?i)expire date:\s*(\S+)`),
	regexp.MustCompile(`(?i)expires(?: on)?:\s*(\S+)`),
	regexp.MustCompile(`(?i)paid-till:\s*(\S+)`),
	regexp.MustCompile(`(?i)renewal date:\s*(\S+)`),
}

var registrarPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*registrar:\s*(.+)$`),
	regexp.MustCompile(`(?i)sponsoring registrar:\s*(.+)$`),
	regexp.MustCompile(`(?i)registrar name:\s*(.+)$`),
}

// dateLayouts covers the formats seen in the wild: RFC 3339, bare ISO dates,
// dotted ISO, and the legacy DD-MMM-YYYY.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006.01.02",
	"02-Jan-2006",
	"2006-01-02T15:04:05",
}

// parseResponse derives registration state from a raw WHOIS response.
// A not-found sentinel wins over everything. Otherwise any extracted field
// proves registration. A response with neither yields an unregistered Record
// alongside ErrParse so the caller can count the ambiguity.
func parseResponse(raw string) (*Record, error) {
	lowered := strings.ToLower(raw)
	for _, marker := range notFoundMarkers {
		if strings.Contains(lowered, marker) {
			return &Record{Registered: false}, nil
		}
	}

	rec := &Record{}
	for _, re := range expiryPatterns {
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		if t, ok := parseDate(strings.TrimSpace(m[1])); ok {
			rec.ExpiryDate = &t
			break
		}
	}
	for _, re := range registrarPatterns {
		if m := findSubmatchMultiline(re, raw); m != "" {
			rec.Registrar = m
			break
		}
	}

	if rec.ExpiryDate == nil && rec.Registrar == "" {
		return &Record{Registered: false}, ErrParse
	}
	rec.Registered = true
	return rec, nil
}

func findSubmatchMultiline(re *regexp.Regexp, raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		if m := re.FindStringSubmatch(strings.TrimRight(line, "\r")); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				return v
			}
		}
	}
	return ""
}

// parseDate normalizes to midnight UTC of the calendar date.
func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.UTC().Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
