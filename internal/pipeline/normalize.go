package pipeline

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/unicode/norm"

	"github.com/vost-pt/meios-dashboard/internal/models"
)

// SchemaError reports a raw record that cannot be projected onto an Incident.
type SchemaError struct {
	Index  int // position in the fetched batch, -1 when normalized on its own
	ID     any // raw id value, if any
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("record %d (id=%v): field %q: %s", e.Index, e.ID, e.Field, e.Reason)
	}
	return fmt.Sprintf("record id=%v: field %q: %s", e.ID, e.Field, e.Reason)
}

var resourceFields = []string{"aerial", "terrain", "man"}

// Normalize projects one raw feed record onto the incident schema and
// computes total_meios. Unknown fields are ignored.
func Normalize(raw models.RawRecord) (models.Incident, error) {
	rawID, ok := raw["id"]
	if !ok || rawID == nil {
		return models.Incident{}, &SchemaError{Index: -1, Field: "id", Reason: "missing"}
	}
	id, ok := models.ToInt64(rawID)
	if !ok {
		return models.Incident{}, &SchemaError{Index: -1, ID: rawID, Field: "id", Reason: "not an integer"}
	}

	var counts [3]int
	for i, field := range resourceFields {
		v, present := raw[field]
		if !present {
			return models.Incident{}, &SchemaError{Index: -1, ID: id, Field: field, Reason: "missing"}
		}
		if v == nil {
			continue
		}
		n, ok := models.ToInt64(v)
		if !ok {
			return models.Incident{}, &SchemaError{Index: -1, ID: id, Field: field, Reason: "not an integer"}
		}
		counts[i] = int(n)
	}

	inc := models.Incident{
		ID:          id,
		Hour:        text(raw, "hour"),
		Date:        text(raw, "date"),
		Aerial:      counts[0],
		Terrain:     counts[1],
		Man:         counts[2],
		District:    text(raw, "district"),
		Concelho:    text(raw, "concelho"),
		FamiliaName: text(raw, "familiaName"),
		Natureza:    text(raw, "natureza", "naturezaName"),
		EspecieName: text(raw, "especieName"),
		Status:      text(raw, "status"),
	}
	inc.TotalMeios = inc.Aerial + inc.Terrain + inc.Man
	return inc, nil
}

// NormalizeBatch normalizes every record, dropping the malformed ones.
// The returned error, when non-nil, is a *multierror.Error holding one
// *SchemaError per dropped record; the kept records are always returned.
func NormalizeBatch(raws []models.RawRecord) ([]models.Incident, error) {
	out := make([]models.Incident, 0, len(raws))
	var merr *multierror.Error
	for i, raw := range raws {
		inc, err := Normalize(raw)
		if err != nil {
			if se, ok := err.(*SchemaError); ok {
				se.Index = i
			}
			merr = multierror.Append(merr, err)
			continue
		}
		out = append(out, inc)
	}
	return out, merr.ErrorOrNil()
}

// text returns the first non-empty value among keys, trimmed and in NFC so
// region names with decomposed accents group with their composed spelling.
func text(raw models.RawRecord, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(models.ToString(raw[k])); s != "" {
			return norm.NFC.String(s)
		}
	}
	return ""
}
