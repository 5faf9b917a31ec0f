package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vost-pt/meios-dashboard/internal/models"
)

func TestCSVSnapshot_MissingFileIsEmpty(t *testing.T) {
	s := NewCSVSnapshot(filepath.Join(t.TempDir(), "112.csv"))

	ds, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestCSVSnapshot_RoundTripPreservesOrder(t *testing.T) {
	s := NewCSVSnapshot(filepath.Join(t.TempDir(), "data", "112.csv"))
	ctx := context.Background()

	ds := []models.Incident{
		testIncident(3, "19-10-2026", "Em Curso"),
		testIncident(1, "19-10-2026", "Em Resolução"),
		testIncident(2, "18-10-2026", "Conclusão"),
	}
	ds[1].District = "Viana do Castelo, Norte" // needs quoting
	require.NoError(t, s.Save(ctx, ds))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, ds, got)
}

func TestCSVSnapshot_SaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "112.csv")
	s := NewCSVSnapshot(path)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, []models.Incident{testIncident(1, "", "a"), testIncident(2, "", "a")}))
	require.NoError(t, s.Save(ctx, []models.Incident{testIncident(2, "", "b")}))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Status)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestCSVSnapshot_LoadsLegacyColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "112.csv")
	legacy := "id,hour,aerial,terrain,man,district,concelho,familiaName,naturezaName,especieName,status\n" +
		"2026190001.0,10:00,1,2,3,Leiria,Pombal,Incêndio,Mato,Incêndio Rural,Em Curso\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	got, err := NewCSVSnapshot(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2026190001), got[0].ID)
	assert.Equal(t, "Mato", got[0].Natureza)
	assert.Equal(t, 6, got[0].TotalMeios, "computed when the column is absent")
}

func TestCSVSnapshot_RejectsBadID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "112.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,hour\nabc,10:00\n"), 0o644))

	_, err := NewCSVSnapshot(path).Load(context.Background())
	assert.ErrorContains(t, err, "line 2")
}
