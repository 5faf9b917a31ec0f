package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vost-pt/meios-dashboard/internal/models"
)

// CSVSnapshot keeps the whole consolidated dataset in one flat file that is
// rewritten, never appended, on every save.
type CSVSnapshot struct {
	path string
}

func NewCSVSnapshot(path string) *CSVSnapshot {
	return &CSVSnapshot{path: path}
}

func (s *CSVSnapshot) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file is an empty dataset. Columns are
// matched by header name; "naturezaName" is accepted for natureza.
func (s *CSVSnapshot) Load(ctx context.Context) ([]models.Incident, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error opening snapshot: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading snapshot header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	if _, ok := col["natureza"]; !ok {
		if i, ok := col["naturezaName"]; ok {
			col["natureza"] = i
		}
	}
	if _, ok := col["id"]; !ok {
		return nil, fmt.Errorf("snapshot %s has no id column", s.path)
	}

	var incidents []models.Incident
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading snapshot line %d: %w", line, err)
		}
		inc, err := parseRow(rec, col)
		if err != nil {
			return nil, fmt.Errorf("snapshot line %d: %w", line, err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, nil
}

func parseRow(rec []string, col map[string]int) (models.Incident, error) {
	cell := func(name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}
	count := func(name string) (int, error) {
		v := cell(name)
		if v == "" {
			return 0, nil
		}
		n, ok := models.ToInt64(v)
		if !ok {
			return 0, fmt.Errorf("invalid %s %q", name, v)
		}
		return int(n), nil
	}

	id, ok := models.ToInt64(cell("id"))
	if !ok {
		return models.Incident{}, fmt.Errorf("invalid id %q", cell("id"))
	}
	inc := models.Incident{
		ID:          id,
		Hour:        cell("hour"),
		Date:        cell("date"),
		District:    cell("district"),
		Concelho:    cell("concelho"),
		FamiliaName: cell("familiaName"),
		Natureza:    cell("natureza"),
		EspecieName: cell("especieName"),
		Status:      cell("status"),
	}
	var err error
	if inc.Aerial, err = count("aerial"); err != nil {
		return inc, err
	}
	if inc.Terrain, err = count("terrain"); err != nil {
		return inc, err
	}
	if inc.Man, err = count("man"); err != nil {
		return inc, err
	}
	if _, stored := col["total_meios"]; stored {
		if inc.TotalMeios, err = count("total_meios"); err != nil {
			return inc, err
		}
	} else {
		inc.TotalMeios = inc.Aerial + inc.Terrain + inc.Man
	}
	return inc, nil
}

// Save replaces the snapshot atomically via a temp file in the same directory.
func (s *CSVSnapshot) Save(ctx context.Context, ds []models.Incident) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.csv")
	if err != nil {
		return fmt.Errorf("error creating temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(models.Columns); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing snapshot header: %w", err)
	}
	for _, inc := range ds {
		if err := w.Write(row(inc)); err != nil {
			tmp.Close()
			return fmt.Errorf("error writing incident %d: %w", inc.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("error flushing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("error replacing snapshot: %w", err)
	}
	return nil
}

func row(inc models.Incident) []string {
	return []string{
		strconv.FormatInt(inc.ID, 10),
		inc.Hour,
		inc.Date,
		strconv.Itoa(inc.Aerial),
		strconv.Itoa(inc.Terrain),
		strconv.Itoa(inc.Man),
		inc.District,
		inc.Concelho,
		inc.FamiliaName,
		inc.Natureza,
		inc.EspecieName,
		inc.Status,
		strconv.Itoa(inc.TotalMeios),
	}
}
