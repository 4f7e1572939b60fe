// internal/extraction/temporal.go
package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// relativeDayOffsets maps fixed phrases to day offsets from the
// reference date.
var relativeDayOffsets = []struct {
	phrase string
	days   int
}{
	{"day before yesterday", -2},
	{"yesterday", -1},
	{"today", 0},
	{"tomorrow", 1},
	{"last week", -7},
	{"last month", -30},
	{"last year", -365},
}

// agoPattern matches expressions like "3 days ago" or "an hour ago".
var agoPattern = regexp.MustCompile(`(?i)\b(\d+|an?)\s+(minute|hour|day|week|month|year)s?\s+ago\b`)

// ResolveTemporal finds relative time expressions in the text and
// resolves them against the reference time. Phrase matches resolve to
// the start of the target day; "N units ago" resolves to an exact
// offset from the reference instant.
func ResolveTemporal(text string, ref time.Time) []TemporalRef {
	if ref.IsZero() {
		ref = time.Now()
	}
	lower := strings.ToLower(text)
	var refs []TemporalRef

	for _, entry := range relativeDayOffsets {
		if !strings.Contains(lower, entry.phrase) {
			continue
		}
		// Consume the phrase so "day before yesterday" doesn't also
		// match "yesterday".
		lower = strings.ReplaceAll(lower, entry.phrase, " ")
		day := ref.AddDate(0, 0, entry.days)
		refs = append(refs, TemporalRef{
			Text:     entry.phrase,
			Resolved: time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location()),
		})
	}

	for _, match := range agoPattern.FindAllStringSubmatch(text, -1) {
		n := 1
		if v, err := strconv.Atoi(match[1]); err == nil {
			n = v
		}
		var resolved time.Time
		switch strings.ToLower(match[2]) {
		case "minute":
			resolved = ref.Add(-time.Duration(n) * time.Minute)
		case "hour":
			resolved = ref.Add(-time.Duration(n) * time.Hour)
		case "day":
			resolved = ref.AddDate(0, 0, -n)
		case "week":
			resolved = ref.AddDate(0, 0, -7*n)
		case "month":
			resolved = ref.AddDate(0, -n, 0)
		case "year":
			resolved = ref.AddDate(-n, 0, 0)
		}
		refs = append(refs, TemporalRef{Text: match[0], Resolved: resolved})
	}
	return refs
}
