package models

import "time"

// DateLayout is the feed's date format (e.g. "19-10-2026").
const DateLayout = "02-01-2006"

// RawRecord is one object as decoded from the upstream feed or store.
type RawRecord map[string]any

type Incident struct {
	ID          int64  `json:"id"`
	Hour        string `json:"hour"`
	Date        string `json:"date,omitempty"` // dd-mm-yyyy, when the feed sends it
	Aerial      int    `json:"aerial"`
	Terrain     int    `json:"terrain"`
	Man         int    `json:"man"`
	District    string `json:"district"`
	Concelho    string `json:"concelho"`
	FamiliaName string `json:"familiaName"`
	Natureza    string `json:"natureza"`
	EspecieName string `json:"especieName"`
	Status      string `json:"status"`
	TotalMeios  int    `json:"total_meios"` // aerial + terrain + man, set once at normalization
}

// Columns is the column order of the tabular dataset snapshot.
var Columns = []string{
	"id", "hour", "date", "aerial", "terrain", "man", "district", "concelho",
	"familiaName", "natureza", "especieName", "status", "total_meios",
}

// TableColumns is the subset shown in the incidents table.
var TableColumns = []string{"hour", "district", "natureza", "status", "total_meios"}

// Filter narrows a fetch. A zero Day means no date filter; Limit <= 0 means no limit.
type Filter struct {
	Day   time.Time
	Limit int
}

func (f Filter) HasDay() bool {
	return !f.Day.IsZero()
}

// DayString formats Day the way the feed and store expect it.
func (f Filter) DayString() string {
	if f.Day.IsZero() {
		return ""
	}
	return f.Day.Format(DateLayout)
}

// Raw converts the incident back to the feed's raw shape.
func (i Incident) Raw() RawRecord {
	return RawRecord{
		"id":          i.ID,
		"hour":        i.Hour,
		"date":        i.Date,
		"aerial":      i.Aerial,
		"terrain":     i.Terrain,
		"man":         i.Man,
		"district":    i.District,
		"concelho":    i.Concelho,
		"familiaName": i.FamiliaName,
		"natureza":    i.Natureza,
		"especieName": i.EspecieName,
		"status":      i.Status,
	}
}
