package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/vost-pt/meios-dashboard/internal/models"
)

var _ IncidentStore = (*SQLiteDB)(nil)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// one writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS incidents (
			id INTEGER PRIMARY KEY,
			hour TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL DEFAULT '',
			aerial INTEGER NOT NULL DEFAULT 0,
			terrain INTEGER NOT NULL DEFAULT 0,
			man INTEGER NOT NULL DEFAULT 0,
			district TEXT NOT NULL DEFAULT '',
			concelho TEXT NOT NULL DEFAULT '',
			familia_name TEXT NOT NULL DEFAULT '',
			natureza TEXT NOT NULL DEFAULT '',
			especie_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			total_meios INTEGER NOT NULL DEFAULT 0,
			created INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_incidents_created ON incidents(created);
		CREATE INDEX IF NOT EXISTS idx_incidents_date ON incidents(date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// UpsertBatch writes incidents in slice order. An id already stored is
// overwritten and moved to the most recent position, so the store keeps
// last-write-wins by arrival like the in-process merge.
func (s *SQLiteDB) UpsertBatch(ctx context.Context, incidents []models.Incident) (int, error) {
	if len(incidents) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(created), 0) FROM incidents`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("error reading sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO incidents (
			id, hour, date, aerial, terrain, man, district, concelho,
			familia_name, natureza, especie_name, status, total_meios, created
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hour = excluded.hour,
			date = excluded.date,
			aerial = excluded.aerial,
			terrain = excluded.terrain,
			man = excluded.man,
			district = excluded.district,
			concelho = excluded.concelho,
			familia_name = excluded.familia_name,
			natureza = excluded.natureza,
			especie_name = excluded.especie_name,
			status = excluded.status,
			total_meios = excluded.total_meios,
			created = excluded.created
	`)
	if err != nil {
		return 0, fmt.Errorf("error preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, inc := range incidents {
		seq++
		if _, err := stmt.ExecContext(ctx,
			inc.ID, inc.Hour, inc.Date, inc.Aerial, inc.Terrain, inc.Man,
			inc.District, inc.Concelho, inc.FamiliaName, inc.Natureza,
			inc.EspecieName, inc.Status, inc.TotalMeios, seq,
		); err != nil {
			return 0, fmt.Errorf("error upserting incident %d: %w", inc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing upsert: %w", err)
	}
	return len(incidents), nil
}

// List returns incidents most recent first, optionally restricted to one
// day and limited.
func (s *SQLiteDB) List(ctx context.Context, filter models.Filter) ([]models.Incident, error) {
	query := `
		SELECT id, hour, date, aerial, terrain, man, district, concelho,
			familia_name, natureza, especie_name, status, total_meios
		FROM incidents`
	var args []any
	if filter.HasDay() {
		query += ` WHERE date = ?`
		args = append(args, filter.DayString())
	}
	query += ` ORDER BY created DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying incidents: %w", err)
	}
	defer rows.Close()

	var incidents []models.Incident
	for rows.Next() {
		var inc models.Incident
		if err := rows.Scan(
			&inc.ID, &inc.Hour, &inc.Date, &inc.Aerial, &inc.Terrain, &inc.Man,
			&inc.District, &inc.Concelho, &inc.FamiliaName, &inc.Natureza,
			&inc.EspecieName, &inc.Status, &inc.TotalMeios,
		); err != nil {
			return nil, fmt.Errorf("error scanning incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating incidents: %w", err)
	}
	return incidents, nil
}

func (s *SQLiteDB) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM incidents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting incidents: %w", err)
	}
	return n, nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
