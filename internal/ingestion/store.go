package ingestion

import (
	"context"

	"github.com/vost-pt/meios-dashboard/internal/models"
)

type IncidentLister interface {
	List(ctx context.Context, filter models.Filter) ([]models.Incident, error)
}

// StoreFetcher reads history that the ingest writer already deduplicated.
// The store answers most recent first; records are returned oldest first so
// positional recency holds downstream.
type StoreFetcher struct {
	store IncidentLister
	limit int
}

func NewStoreFetcher(store IncidentLister, limit int) *StoreFetcher {
	return &StoreFetcher{store: store, limit: limit}
}

func (f *StoreFetcher) Fetch(ctx context.Context, filter models.Filter) ([]models.RawRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = f.limit
	}
	incidents, err := f.store.List(ctx, filter)
	if err != nil {
		return nil, fetchErr("store", "list", err)
	}

	out := make([]models.RawRecord, len(incidents))
	for i, inc := range incidents {
		out[len(incidents)-1-i] = inc.Raw()
	}
	return out, nil
}
