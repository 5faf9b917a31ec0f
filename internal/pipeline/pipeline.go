package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/vost-pt/meios-dashboard/internal/metrics"
	"github.com/vost-pt/meios-dashboard/internal/models"
	"github.com/vost-pt/meios-dashboard/internal/views"
)

// Source returns raw incident records for a filter. Any error is treated as
// the upstream being unreachable; an empty slice means no incidents.
type Source interface {
	Fetch(ctx context.Context, filter models.Filter) ([]models.RawRecord, error)
}

// DatasetStore persists the consolidated dataset between cycles.
type DatasetStore interface {
	Load(ctx context.Context) ([]models.Incident, error)
	Save(ctx context.Context, ds []models.Incident) error
}

type Publisher interface {
	Broadcast(s *Snapshot)
}

type Options struct {
	RecentN      int
	FetchTimeout time.Duration
	Policy       RecencyPolicy
	Publisher    Publisher
}

// Snapshot is the outcome of the latest refresh cycle.
type Snapshot struct {
	Dashboard   views.Dashboard `json:"dashboard"`
	Day         string          `json:"day,omitempty"` // set when the views cover only that day (store topology)
	RefreshedAt time.Time       `json:"refreshed_at"`  // zero until a cycle succeeds
	Records     int             `json:"records"`
	Fetched     int             `json:"fetched"`
	Skipped     int             `json:"skipped"`
	Empty       bool            `json:"empty"` // upstream answered with zero incidents
	Stale       bool            `json:"stale"` // last-known-good data, the latest cycle did not complete
	LastError   string          `json:"last_error,omitempty"`

	Dataset []models.Incident `json:"-"`
}

// Pipeline runs fetch, normalize, merge, persist and project cycles. With a
// nil store the source already holds history (store topology) and each cycle
// only deduplicates what it fetched.
type Pipeline struct {
	source Source
	store  DatasetStore
	opts   Options

	mu      sync.Mutex
	dataset []models.Incident
	current atomic.Pointer[Snapshot]
}

func New(source Source, store DatasetStore, opts Options) *Pipeline {
	if opts.RecentN <= 0 {
		opts.RecentN = 10
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.Policy == nil {
		opts.Policy = ArrivalOrderWins
	}
	p := &Pipeline{
		source: source,
		store:  store,
		opts:   opts,
	}
	initial := p.snapshot(nil, models.Filter{})
	initial.Stale = true
	p.current.Store(initial)
	return p
}

// Init loads the persisted dataset and publishes it as a stale snapshot
// until the first cycle completes.
func (p *Pipeline) Init(ctx context.Context) error {
	if p.store == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ds, err := p.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("error loading dataset: %w", err)
	}
	p.dataset = ds
	metrics.SetDatasetSize(len(ds))

	loaded := p.snapshot(ds, models.Filter{})
	loaded.Stale = true
	p.current.Store(loaded)
	slog.Info("dataset loaded", "records", len(ds))
	return nil
}

// Current returns the latest snapshot without waiting for a running cycle.
func (p *Pipeline) Current() *Snapshot {
	return p.current.Load()
}

// Refresh runs one cycle. Cycles never overlap. On a fetch or save failure
// the previous snapshot is returned marked stale, alongside the error, and
// neither the dataset nor the persisted copy changes.
func (p *Pipeline) Refresh(ctx context.Context, filter models.Filter) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	raws, err := p.source.Fetch(fetchCtx, filter)
	cancel()
	if err != nil {
		metrics.RecordRefresh(metrics.ResultFetchFailed, time.Since(start))
		slog.Error("refresh fetch failed", "day", filter.DayString(), "error", err)
		return p.fail(err), err
	}

	incoming, err := NormalizeBatch(raws)
	skipped := len(raws) - len(incoming)
	if err != nil {
		logSkipped(err)
		metrics.RecordSkipped(skipped)
	}

	var ds []models.Incident
	if p.store == nil {
		ds = MergeWith(p.opts.Policy, nil, incoming)
	} else {
		ds = MergeWith(p.opts.Policy, p.dataset, incoming)
		if len(incoming) > 0 {
			if err := p.store.Save(ctx, ds); err != nil {
				err = fmt.Errorf("error saving dataset: %w", err)
				metrics.RecordRefresh(metrics.ResultSaveFailed, time.Since(start))
				slog.Error("refresh save failed", "error", err)
				return p.fail(err), err
			}
		}
	}
	p.dataset = ds

	snap := p.snapshot(ds, filter)
	snap.RefreshedAt = time.Now()
	snap.Fetched = len(raws)
	snap.Skipped = skipped
	snap.Empty = len(raws) == 0
	p.publish(snap)

	result := metrics.ResultOK
	if snap.Empty {
		result = metrics.ResultEmpty
	}
	metrics.RecordRefresh(result, time.Since(start))
	metrics.SetDatasetSize(len(ds))
	slog.Info("refresh complete",
		"day", filter.DayString(),
		"fetched", len(raws),
		"skipped", skipped,
		"records", len(ds),
		"duration", time.Since(start),
	)
	return snap, nil
}

func (p *Pipeline) snapshot(ds []models.Incident, filter models.Filter) *Snapshot {
	// the file topology merges a day's fetch into the whole history
	var day string
	if p.store == nil {
		day = filter.DayString()
	}
	return &Snapshot{
		Dashboard: views.Build(ds, p.opts.RecentN),
		Day:       day,
		Records:   len(ds),
		Dataset:   ds,
	}
}

func (p *Pipeline) fail(err error) *Snapshot {
	prev := *p.current.Load()
	prev.Stale = true
	prev.LastError = err.Error()
	p.publish(&prev)
	return &prev
}

func (p *Pipeline) publish(s *Snapshot) {
	p.current.Store(s)
	if p.opts.Publisher != nil {
		p.opts.Publisher.Broadcast(s)
	}
}

func logSkipped(err error) {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		slog.Warn("skipped malformed record", "error", err)
		return
	}
	for _, e := range merr.Errors {
		slog.Warn("skipped malformed record", "error", e)
	}
}
