// Package views projects the consolidated incident dataset into the shapes
// the dashboard displays. Every function is pure and tolerates an empty
// dataset, returning empty (non-nil) slices.
package views

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vost-pt/meios-dashboard/internal/models"
)

type Scope string

const (
	ScopeRecent Scope = "recent"
	ScopeFull   Scope = "full"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeRecent, "":
		return ScopeRecent, nil
	case ScopeFull:
		return ScopeFull, nil
	default:
		return "", fmt.Errorf("unknown scope %q", s)
	}
}

type GroupTotal struct {
	Key   string `json:"key"`
	Total int    `json:"total"`
}

type SeriesPoint struct {
	Time       time.Time `json:"time"`
	ID         int64     `json:"id"`
	Category   string    `json:"category"`
	District   string    `json:"district"`
	TotalMeios int       `json:"total_meios"`
}

type Row struct {
	Hour       string `json:"hour"`
	District   string `json:"district"`
	Natureza   string `json:"natureza"`
	Status     string `json:"status"`
	TotalMeios int    `json:"total_meios"`
}

// Dashboard bundles the outputs handed to the display layer.
type Dashboard struct {
	Recent           []models.Incident `json:"recent"`
	RecentByDistrict []GroupTotal      `json:"recent_by_district"`
	RecentByConcelho []GroupTotal      `json:"recent_by_concelho"`
	FullByDistrict   []GroupTotal      `json:"full_by_district"`
	Timeline         []SeriesPoint     `json:"timeline"`
	Table            []Row             `json:"table"`
}

// TopRecent returns the last n records by ingestion order, not by hour.
func TopRecent(ds []models.Incident, n int) []models.Incident {
	if n <= 0 {
		return []models.Incident{}
	}
	if n > len(ds) {
		n = len(ds)
	}
	out := make([]models.Incident, n)
	copy(out, ds[len(ds)-n:])
	return out
}

// GroupTotalsBy sums total_meios per district or concelho. Groups are
// listed in order of first appearance within the scope.
func GroupTotalsBy(ds []models.Incident, field string, scope Scope, n int) ([]GroupTotal, error) {
	key, err := groupKey(field)
	if err != nil {
		return nil, err
	}

	rows := ds
	switch scope {
	case ScopeRecent:
		rows = TopRecent(ds, n)
	case ScopeFull:
	default:
		return nil, fmt.Errorf("unknown scope %q", scope)
	}

	out := []GroupTotal{}
	index := make(map[string]int)
	for _, inc := range rows {
		k := key(inc)
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, GroupTotal{Key: k})
		}
		out[i].Total += inc.TotalMeios
	}
	return out, nil
}

func groupKey(field string) (func(models.Incident) string, error) {
	switch field {
	case "district":
		return func(i models.Incident) string { return i.District }, nil
	case "concelho":
		return func(i models.Incident) string { return i.Concelho }, nil
	default:
		return nil, fmt.Errorf("cannot group by %q", field)
	}
}

// TimeSeries returns every record whose hour parses, ascending by time.
// Records sharing a timestamp keep their ingestion order.
func TimeSeries(ds []models.Incident) []SeriesPoint {
	out := make([]SeriesPoint, 0, len(ds))
	for _, inc := range ds {
		t, ok := ParseHour(inc.Hour, inc.Date)
		if !ok {
			continue
		}
		out = append(out, SeriesPoint{
			Time:       t,
			ID:         inc.ID,
			Category:   inc.Natureza,
			District:   inc.District,
			TotalMeios: inc.TotalMeios,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// TableView projects the last n records onto the table columns.
func TableView(ds []models.Incident, n int) []Row {
	recent := TopRecent(ds, n)
	out := make([]Row, 0, len(recent))
	for _, inc := range recent {
		out = append(out, Row{
			Hour:       inc.Hour,
			District:   inc.District,
			Natureza:   inc.Natureza,
			Status:     inc.Status,
			TotalMeios: inc.TotalMeios,
		})
	}
	return out
}

// Build derives every dashboard view from ds, using n as the recent window.
func Build(ds []models.Incident, n int) Dashboard {
	// district and concelho are always valid group fields
	recentDistrict, _ := GroupTotalsBy(ds, "district", ScopeRecent, n)
	recentConcelho, _ := GroupTotalsBy(ds, "concelho", ScopeRecent, n)
	fullDistrict, _ := GroupTotalsBy(ds, "district", ScopeFull, n)

	return Dashboard{
		Recent:           TopRecent(ds, n),
		RecentByDistrict: recentDistrict,
		RecentByConcelho: recentConcelho,
		FullByDistrict:   fullDistrict,
		Timeline:         TimeSeries(ds),
		Table:            TableView(ds, n),
	}
}
