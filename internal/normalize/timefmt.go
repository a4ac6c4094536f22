// SPDX-License-Identifier: Apache-2.0

package normalize

import "time"

const DefaultDisplayLayout = "02.01.2006 15:04:05"

// isoLayouts are tried in order. Fractional seconds of any precision are
// accepted by time.Parse after the seconds field, so Emby's seven-digit
// ticks parse with the plain layouts.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseISO(raw string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// formatDisplayTime renders raw with layout. Unparseable input is returned
// unchanged. A non-zero offset shifts the UTC instant before formatting.
func formatDisplayTime(raw, layout string, offset time.Duration) string {
	t, ok := parseISO(raw)
	if !ok {
		return raw
	}
	if offset != 0 {
		t = t.UTC().Add(offset)
	}
	return t.Format(layout)
}
