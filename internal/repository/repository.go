package repository

import (
	"context"

	"github.com/vost-pt/meios-dashboard/internal/models"
)

// IncidentStore is the store-backed history: the ingest writer upserts into
// it and the dashboard only reads.
type IncidentStore interface {
	UpsertBatch(ctx context.Context, incidents []models.Incident) (int, error)
	List(ctx context.Context, filter models.Filter) ([]models.Incident, error)
	Count(ctx context.Context) (int, error)
}
