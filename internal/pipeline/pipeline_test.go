package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vost-pt/meios-dashboard/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSource returns queued batches in order, then empty batches.
type fakeSource struct {
	mu      sync.Mutex
	batches [][]models.RawRecord
	err     error
	calls   []models.Filter
}

func (f *fakeSource) Fetch(ctx context.Context, filter models.Filter) ([]models.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, filter)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return []models.RawRecord{}, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

type memStore struct {
	mu      sync.Mutex
	dataset []models.Incident
	saves   int
	saveErr error
}

func (m *memStore) Load(ctx context.Context) ([]models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Incident(nil), m.dataset...), nil
}

func (m *memStore) Save(ctx context.Context, ds []models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.dataset = append([]models.Incident(nil), ds...)
	m.saves++
	return nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []*Snapshot
}

func (r *recordingPublisher) Broadcast(s *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func raw(id any, status string) models.RawRecord {
	r := rawIncident(id)
	r["status"] = status
	return r
}

func TestPipeline_RefreshMergesAndPersists(t *testing.T) {
	src := &fakeSource{batches: [][]models.RawRecord{
		{raw(1, "open"), raw(2, "open")},
		{raw(2, "closed"), raw(3, "open")},
	}}
	store := &memStore{}
	pub := &recordingPublisher{}
	p := New(src, store, Options{RecentN: 10, Publisher: pub})
	require.NoError(t, p.Init(context.Background()))

	_, err := p.Refresh(context.Background(), models.Filter{})
	require.NoError(t, err)
	snap, err := p.Refresh(context.Background(), models.Filter{})
	require.NoError(t, err)

	assert.Equal(t, 3, snap.Records)
	assert.False(t, snap.Stale)
	assert.False(t, snap.Empty)
	assert.False(t, snap.RefreshedAt.IsZero())
	assert.Equal(t, []int64{1, 2, 3}, ids(snap.Dataset))
	assert.Equal(t, "closed", snap.Dataset[1].Status)

	assert.Equal(t, 2, store.saves)
	assert.Equal(t, snap.Dataset, store.dataset)
	assert.Same(t, snap, p.Current())
	assert.Len(t, pub.snaps, 2)
}

func TestPipeline_InitLoadsPersistedDataset(t *testing.T) {
	store := &memStore{dataset: []models.Incident{inc(9, "open", 3)}}
	p := New(&fakeSource{}, store, Options{})

	assert.True(t, p.Current().Stale)
	require.NoError(t, p.Init(context.Background()))

	cur := p.Current()
	assert.True(t, cur.Stale, "loaded data is stale until a cycle succeeds")
	assert.True(t, cur.RefreshedAt.IsZero())
	assert.Equal(t, 1, cur.Records)
	require.Len(t, cur.Dashboard.Table, 1)
	assert.Equal(t, 3, cur.Dashboard.Table[0].TotalMeios)
}

func TestPipeline_EmptyFeedLeavesDatasetUnchanged(t *testing.T) {
	store := &memStore{dataset: []models.Incident{inc(1, "open", 1)}}
	p := New(&fakeSource{}, store, Options{})
	require.NoError(t, p.Init(context.Background()))

	snap, err := p.Refresh(context.Background(), models.Filter{})
	require.NoError(t, err)

	assert.True(t, snap.Empty)
	assert.False(t, snap.Stale)
	assert.Equal(t, []int64{1}, ids(snap.Dataset))
	assert.Equal(t, 0, store.saves, "nothing to persist")
}

func TestPipeline_EmptyFeedEmptyDataset(t *testing.T) {
	p := New(&fakeSource{}, &memStore{}, Options{})
	require.NoError(t, p.Init(context.Background()))

	snap, err := p.Refresh(context.Background(), models.Filter{})
	require.NoError(t, err)

	assert.True(t, snap.Empty)
	assert.NotNil(t, snap.Dashboard.Table)
	assert.Empty(t, snap.Dashboard.Table)
	assert.Empty(t, snap.Dashboard.Timeline)
	assert.Empty(t, snap.Dashboard.FullByDistrict)
}

func TestPipeline_FetchErrorKeepsLastKnownGood(t *testing.T) {
	src := &fakeSource{batches: [][]models.RawRecord{{raw(1, "open")}}}
	store := &memStore{}
	p := New(src, store, Options{})
	require.NoError(t, p.Init(context.Background()))

	good, err := p.Refresh(context.Background(), models.Filter{})
	require.NoError(t, err)

	src.err = errors.New("connection refused")
	snap, err := p.Refresh(context.Background(), models.Filter{})
	require.Error(t, err)

	assert.True(t, snap.Stale)
	assert.Contains(t, snap.LastError, "connection refused")
	assert.Equal(t, good.Dataset, snap.Dataset)
	assert.Equal(t, good.RefreshedAt, snap.RefreshedAt)
	assert.Equal(t, 1, store.saves)
	assert.True(t, p.Current().Stale)
	assert.False(t, good.Stale, "previous snapshot is not modified")

	// recovers on the next successful cycle
	src.err = nil
	snap, err = p.Refresh(context.Background(), models.Filter{})
	require.NoError(t, err)
	assert.False(t, snap.Stale)
	assert.Empty(t, snap.LastError)
}

func TestPipeline_SaveErrorDoesNotCommit(t *testing.T) {
	src := &fakeSource{batches: [][]models.RawRecord{{raw(1, "open")}, {raw(2, "open")}}}
	store := &memStore{}
	p := New(src, store, Options{})
	require.NoError(t, p.Init(context.Background()))

	_, err := p.Refresh(context.Background(), models.Filter{})
	require.NoError(t, err)

	store.saveErr = errors.New("disk full")
	snap, err := p.Refresh(context.Background(), models.Filter{})
	require.Error(t, err)
	assert.True(t, snap.Stale)
	assert.Equal(t, []int64{1}, ids(snap.Dataset))

	store.saveErr = nil
	src.batches = [][]models.RawRecord{{raw(3, "open")}}
	snap, err = p.Refresh(context.Background(), models.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(snap.Dataset))
}

func TestPipeline_SchemaGapSkipsOnlyBadRecord(t *testing.T) {
	batch := []models.RawRecord{raw(1, "a"), raw(2, "a"), raw(3, "a"), raw(4, "a"), raw(5, "a")}
	delete(batch[3], "id")
	p := New(&fakeSource{batches: [][]models.RawRecord{batch}}, &memStore{}, Options{})

	snap, err := p.Refresh(context.Background(), models.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Records)
	assert.Equal(t, 5, snap.Fetched)
	assert.Equal(t, 1, snap.Skipped)
}

func TestPipeline_StoreTopologyOnlyDeduplicatesFetched(t *testing.T) {
	src := &fakeSource{batches: [][]models.RawRecord{
		{raw(1, "open"), raw(2, "open"), raw(1, "closed")},
		{raw(7, "open")},
	}}
	p := New(src, nil, Options{})
	require.NoError(t, p.Init(context.Background()))

	snap, err := p.Refresh(context.Background(), models.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ids(snap.Dataset))

	snap, err = p.Refresh(context.Background(), models.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, ids(snap.Dataset), "history lives in the store, not in process")
}

func TestPipeline_PassesFilterAndDay(t *testing.T) {
	src := &fakeSource{}
	p := New(src, nil, Options{})
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	snap, err := p.Refresh(context.Background(), models.Filter{Day: day})
	require.NoError(t, err)
	assert.Equal(t, "19-10-2026", snap.Day)
	require.Len(t, src.calls, 1)
	assert.Equal(t, day, src.calls[0].Day)
}

func TestPipeline_FileTopologyViewsAreNotDayScoped(t *testing.T) {
	store := &memStore{dataset: []models.Incident{inc(1, "Em Curso", 3)}}
	src := &fakeSource{batches: [][]models.RawRecord{{rawIncident(2)}}}
	p := New(src, store, Options{})
	require.NoError(t, p.Init(context.Background()))
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	snap, err := p.Refresh(context.Background(), models.Filter{Day: day})
	require.NoError(t, err)
	assert.Empty(t, snap.Day)
	assert.Equal(t, []int64{1, 2}, ids(snap.Dataset))
	require.Len(t, src.calls, 1)
	assert.Equal(t, day, src.calls[0].Day, "the day still narrows the fetch")
}

type slowSource struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (s *slowSource) Fetch(ctx context.Context, filter models.Filter) ([]models.RawRecord, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return []models.RawRecord{rawIncident(1)}, nil
}

func TestPipeline_CyclesNeverOverlap(t *testing.T) {
	src := &slowSource{}
	p := New(src, &memStore{}, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Refresh(context.Background(), models.Filter{})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.maxSeen.Load())
}

type hangingSource struct{}

func (hangingSource) Fetch(ctx context.Context, filter models.Filter) ([]models.RawRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPipeline_FetchTimeout(t *testing.T) {
	p := New(hangingSource{}, &memStore{}, Options{FetchTimeout: 20 * time.Millisecond})

	start := time.Now()
	snap, err := p.Refresh(context.Background(), models.Filter{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, snap.Stale)
	assert.Less(t, time.Since(start), 2*time.Second)
}
