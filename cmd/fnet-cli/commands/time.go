package commands

import (
	"fmt"
	"time"
)

var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime accepts RFC3339, or a zoneless timestamp interpreted in `loc`.
func parseTime(value string, loc *time.Location) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return parsed, nil
	}
	for _, layout := range timeLayouts {
		parsed, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q, use RFC3339 or YYYY-MM-DD[ HH:MM[:SS]]", value)
}
