package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vost-pt/meios-dashboard/internal/config"
	"github.com/vost-pt/meios-dashboard/internal/metrics"
	"github.com/vost-pt/meios-dashboard/internal/models"
	"github.com/vost-pt/meios-dashboard/internal/pipeline"
	"github.com/vost-pt/meios-dashboard/internal/worker"
)

type Refresher interface {
	Refresh(ctx context.Context, filter models.Filter) (*pipeline.Snapshot, error)
}

type IngestStore interface {
	UpsertBatch(ctx context.Context, incidents []models.Incident) (int, error)
}

// Manager schedules refresh cycles and, in the store topology, runs the
// ingest writer that feeds the store.
type Manager struct {
	cfg       *config.Config
	refresher Refresher
	feed      pipeline.Source
	store     IngestStore

	// pending holds at most one queued refresh; a newer trigger replaces it
	pending chan models.Filter
	mu      sync.Mutex
	filter  models.Filter // sticky filter reused by timer ticks

	pool *worker.Pool[[]models.Incident]
	wg   sync.WaitGroup
}

// NewManager wires the scheduler. feed and store may be nil, in which case
// the ingest writer does not run.
func NewManager(cfg *config.Config, refresher Refresher, feed pipeline.Source, store IngestStore) *Manager {
	return &Manager{
		cfg:       cfg,
		refresher: refresher,
		feed:      feed,
		store:     store,
		pending:   make(chan models.Filter, 1),
	}
}

func (m *Manager) Start(ctx context.Context) {
	// Initial refresh
	m.enqueue(m.currentFilter())

	m.wg.Add(2)
	go m.runRefresher(ctx)
	go m.runTicker(ctx, m.cfg.Pipeline.RefreshInterval)

	if m.cfg.Ingest.Enabled && m.feed != nil && m.store != nil {
		// one worker keeps batches in arrival order
		m.pool = worker.NewPool("ingest", 1, m.cfg.Ingest.BufferSize, m.write)
		m.pool.Start(ctx)

		m.wg.Add(1)
		go m.runIngest(ctx, m.cfg.Ingest.Interval)
	}
}

// Trigger requests a refresh for filter, e.g. after the user picks a day.
// The filter also applies to subsequent timer refreshes.
func (m *Manager) Trigger(filter models.Filter) {
	m.mu.Lock()
	m.filter = filter
	m.mu.Unlock()
	m.enqueue(filter)
}

func (m *Manager) currentFilter() models.Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter
}

// enqueue replaces any refresh still waiting so only the latest runs.
func (m *Manager) enqueue(filter models.Filter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.pending:
		slog.Debug("superseded pending refresh")
	default:
	}
	m.pending <- filter
}

func (m *Manager) runRefresher(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case filter := <-m.pending:
			// fail-stale is handled by the pipeline; the error is already logged
			m.refresher.Refresh(ctx, filter)
		}
	}
}

func (m *Manager) runTicker(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	slog.Info("starting refresh ticker", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("refresh ticker shutting down")
			return
		case <-ticker.C:
			m.enqueue(m.currentFilter())
		}
	}
}

func (m *Manager) runIngest(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	slog.Info("starting ingest writer", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.ingest(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("ingest writer shutting down")
			return
		case <-ticker.C:
			m.ingest(ctx)
		}
	}
}

func (m *Manager) ingest(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.Feed.Timeout)
	raws, err := m.feed.Fetch(fetchCtx, models.Filter{})
	cancel()
	if err != nil {
		slog.Error("ingest fetch failed", "error", err)
		return
	}

	incidents, err := pipeline.NormalizeBatch(raws)
	if err != nil {
		slog.Warn("ingest skipped malformed records", "count", len(raws)-len(incidents), "error", err)
		metrics.RecordSkipped(len(raws) - len(incidents))
	}
	if len(incidents) == 0 {
		slog.Debug("ingest found no incidents")
		return
	}

	if !m.pool.Submit(ctx, incidents) {
		slog.Warn("ingest batch dropped on shutdown", "count", len(incidents))
	}
}

func (m *Manager) write(ctx context.Context, batch []models.Incident) error {
	n, err := m.store.UpsertBatch(ctx, batch)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	metrics.RecordIngested(n)
	slog.Info("ingested incidents", "count", n)
	return nil
}

func (m *Manager) Stop() {
	m.wg.Wait()
	if m.pool != nil {
		m.pool.Stop()
	}
	slog.Info("ingestion manager stopped")
}
