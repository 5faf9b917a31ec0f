package views

import (
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/vost-pt/meios-dashboard/internal/models"
)

var hourLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
}

// Feed timestamps are Portuguese local time.
var lisbon = mustLoadLocation("Europe/Lisbon")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// ParseHour parses an incident's hour. A bare clock time ("14:32") is
// resolved against date (dd-mm-yyyy); without a date it does not parse.
func ParseHour(hour, date string) (time.Time, bool) {
	hour = strings.TrimSpace(hour)
	if hour == "" {
		return time.Time{}, false
	}
	for _, layout := range hourLayouts {
		if t, err := time.ParseInLocation(layout, hour, lisbon); err == nil {
			return t, true
		}
	}

	date = strings.TrimSpace(date)
	if date == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.ParseInLocation(models.DateLayout+" "+layout, date+" "+hour, lisbon); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
