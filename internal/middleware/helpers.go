package middleware

import (
	"strings"
	"time"
)

// maskEmail replaces everything before the @ with asterisks, keeping the
// first character and the domain, e.g. "jane.doe@x.com" -> "j*******@x.com".
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return email
	}
	local := email[:at]
	masked := local[:1] + strings.Repeat("*", len(local)-1)
	return masked + email[at:]
}

// maskPhone keeps the last 4 digits and masks the rest, e.g.
// "+1-555-123-4567" -> "***********4567".
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	keep := phone[len(phone)-4:]
	return strings.Repeat("*", len(phone)-4) + keep
}

// truncateYear parses an ISO-8601 date/time string and returns just the
// year, e.g. "1990-04-12T00:00:00Z" -> "1990".
func truncateYear(isoDate string) string {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, isoDate); err == nil {
			return t.Format("2006")
		}
	}
	return isoDate
}
