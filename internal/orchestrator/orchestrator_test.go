package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kenbotlabs/lotwatch/internal/domain"
	"github.com/kenbotlabs/lotwatch/internal/scrape"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rec(title, stock string, price domain.Money) domain.ListingRecord {
	return domain.ListingRecord{
		Key:   domain.MakeListingKey(title, stock),
		Stock: stock,
		Title: title,
		Price: price,
	}
}

func snapOf(recs ...domain.ListingRecord) domain.Snapshot {
	s := domain.Snapshot{}
	for _, r := range recs {
		s[r.Key] = r
	}
	return s
}

type fakeFetcher struct {
	records []domain.ListingRecord
	err     error
	failN   int // fail the first failN calls, then succeed
	calls   int
}

func (f *fakeFetcher) FetchInventory(ctx context.Context) (scrape.Result, error) {
	f.calls++
	if f.failN > 0 {
		f.failN--
		return scrape.Result{}, errors.New("connection reset")
	}
	if f.err != nil {
		return scrape.Result{}, f.err
	}
	return scrape.Result{
		Records: f.records,
		Pages:   []scrape.PageCapture{{URL: "https://example.test/inventory", PageNo: 1, Body: []byte("<html></html>")}},
		Outcome: domain.ScrapeOutcome{PagesFetched: 1, Listings: len(f.records)},
	}, nil
}

type fakeEnricher struct {
	fallback bool
}

func (f *fakeEnricher) Enrich(ctx context.Context, ev domain.ChangeEvent) domain.EnrichedEvent {
	return domain.EnrichedEvent{
		ChangeEvent: ev,
		Text:        "text for " + string(ev.Key),
		Fallback:    f.fallback,
	}
}

type fakePublisher struct {
	failKind domain.EventKind
	order    []domain.ListingKey
}

func (f *fakePublisher) Publish(ctx context.Context, ev domain.EnrichedEvent) domain.PublishOutcome {
	f.order = append(f.order, ev.Key)
	if f.failKind != "" && ev.Kind == f.failKind {
		return domain.PublishOutcome{Status: domain.PublishStatusFailed, Error: "graph error"}
	}
	return domain.PublishOutcome{Status: domain.PublishStatusPublished, PostID: "post-" + string(ev.Key)}
}

type memSnapshotStore struct {
	snap       domain.Snapshot
	commitErr  error
	commits    int
	closedRun  domain.RunRecord
	loadCalls  int
	commitSnap domain.Snapshot
}

func (m *memSnapshotStore) Load(ctx context.Context) (domain.Snapshot, error) {
	m.loadCalls++
	return m.snap, nil
}

func (m *memSnapshotStore) Commit(ctx context.Context, snap domain.Snapshot, run domain.RunRecord) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.commits++
	m.snap = snap
	m.commitSnap = snap
	m.closedRun = run
	return nil
}

type memRunStore struct {
	begun    []domain.RunRecord
	items    []domain.RunItem
	finished []domain.RunRecord
}

func (m *memRunStore) Begin(ctx context.Context, run domain.RunRecord) error {
	m.begun = append(m.begun, run)
	return nil
}

func (m *memRunStore) AppendItem(ctx context.Context, runID string, item domain.RunItem) error {
	m.items = append(m.items, item)
	return nil
}

func (m *memRunStore) Finish(ctx context.Context, run domain.RunRecord) error {
	m.finished = append(m.finished, run)
	return nil
}

func (m *memRunStore) LoadLast(ctx context.Context) (domain.RunRecord, error) {
	return domain.RunRecord{}, domain.ErrNotFound
}

type fakeLocks struct {
	held     bool
	acquired int
	released int
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	f.acquired++
	return func() { f.released++ }, nil
}

func newTestOrchestrator(cfg Config, fetcher *fakeFetcher, snaps *memSnapshotStore, runs *memRunStore, locks *fakeLocks) (*Orchestrator, *fakePublisher) {
	pub := &fakePublisher{}
	var lm domain.LockManager
	if locks != nil {
		lm = locks
	}
	o := New(cfg, fetcher, &fakeEnricher{}, pub, snaps, runs, lm, nil, nil, nil, testLogger())
	return o, pub
}

func TestRunOnceHappyPath(t *testing.T) {
	prev := snapOf(
		rec("2022 Ram 1500", "A100", 45000),
		rec("2021 Jeep Compass", "B200", 28000),
	)
	current := []domain.ListingRecord{
		rec("2022 Ram 1500", "A100", 43500), // price change
		rec("2023 Dodge Hornet", "C300", 39000),
	}
	// B200 gone; gate disabled so the small fixture passes.
	fetcher := &fakeFetcher{records: current}
	snaps := &memSnapshotStore{snap: prev}
	runs := &memRunStore{}
	o, pub := newTestOrchestrator(Config{}, fetcher, snaps, runs, nil)

	summary, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Stage != domain.StageDone {
		t.Fatalf("stage = %s, want %s", summary.Stage, domain.StageDone)
	}
	if summary.Sold != 1 || summary.PriceChanged != 1 || summary.New != 1 {
		t.Errorf("counts = sold %d changed %d new %d, want 1/1/1",
			summary.Sold, summary.PriceChanged, summary.New)
	}
	if summary.Published != 3 {
		t.Errorf("published = %d, want 3", summary.Published)
	}

	// Publish order follows the deterministic event order: SOLD first,
	// then PRICE_CHANGED, then NEW.
	want := []domain.ListingKey{
		domain.MakeListingKey("2021 Jeep Compass", "B200"),
		domain.MakeListingKey("2022 Ram 1500", "A100"),
		domain.MakeListingKey("2023 Dodge Hornet", "C300"),
	}
	if len(pub.order) != len(want) {
		t.Fatalf("publish calls = %d, want %d", len(pub.order), len(want))
	}
	for i, k := range want {
		if pub.order[i] != k {
			t.Errorf("publish order[%d] = %s, want %s", i, pub.order[i], k)
		}
	}

	if snaps.commits != 1 {
		t.Fatalf("commits = %d, want 1", snaps.commits)
	}
	if len(snaps.commitSnap) != 2 {
		t.Errorf("committed snapshot size = %d, want 2", len(snaps.commitSnap))
	}
	if snaps.closedRun.Stage != domain.StageDone {
		t.Errorf("closed run stage = %s, want DONE", snaps.closedRun.Stage)
	}
	if len(runs.items) != 3 {
		t.Errorf("appended run items = %d, want 3", len(runs.items))
	}
}

func TestRunOnceFirstRunSkipsGate(t *testing.T) {
	// Five listings with a floor of 30 would trip the gate, but there is no
	// baseline yet so every listing becomes a NEW event.
	var current []domain.ListingRecord
	for _, stock := range []string{"S1", "S2", "S3", "S4", "S5"} {
		current = append(current, rec("2024 Ram 2500", stock, 60000))
	}
	fetcher := &fakeFetcher{records: current}
	snaps := &memSnapshotStore{snap: domain.Snapshot{}}
	o, _ := newTestOrchestrator(Config{MinInventoryAbs: 30, MinInventoryRatio: 0.70}, fetcher, snaps, &memRunStore{}, nil)

	summary, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.New != 5 {
		t.Errorf("new = %d, want 5", summary.New)
	}
	if snaps.commits != 1 {
		t.Errorf("commits = %d, want 1", snaps.commits)
	}
}

func TestRunOnceSanityGate(t *testing.T) {
	baseline := make([]domain.ListingRecord, 0, 100)
	for i := 0; i < 100; i++ {
		baseline = append(baseline, rec("2022 Jeep Wrangler", "W"+string(rune('0'+i%10))+string(rune('A'+i/10)), 50000))
	}
	prev := snapOf(baseline...)

	tests := []struct {
		name    string
		current int
		abs     int
		ratio   float64
		aborted bool
	}{
		{"below absolute floor", 29, 30, 0, true},
		{"at absolute floor", 30, 30, 0, false},
		{"below ratio floor", 69, 0, 0.70, true},
		{"at ratio floor", 70, 0, 0.70, false},
		{"both floors satisfied", 80, 30, 0.70, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &fakeFetcher{records: baseline[:tt.current]}
			snaps := &memSnapshotStore{snap: prev}
			runs := &memRunStore{}
			o, _ := newTestOrchestrator(Config{MinInventoryAbs: tt.abs, MinInventoryRatio: tt.ratio}, fetcher, snaps, runs, nil)

			summary, err := o.RunOnce(context.Background())
			if tt.aborted {
				if !errors.Is(err, domain.ErrSanityGate) {
					t.Fatalf("err = %v, want ErrSanityGate", err)
				}
				if summary.Stage != domain.StageAborted {
					t.Errorf("stage = %s, want ABORTED", summary.Stage)
				}
				if snaps.commits != 0 {
					t.Errorf("commits = %d, want 0 after gate abort", snaps.commits)
				}
				if len(runs.finished) != 1 || runs.finished[0].Stage != domain.StageAborted {
					t.Errorf("aborted run not recorded: %+v", runs.finished)
				}
				return
			}
			if err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			if snaps.commits != 1 {
				t.Errorf("commits = %d, want 1", snaps.commits)
			}
		})
	}
}

func TestRunOncePersistFailureKeepsSnapshot(t *testing.T) {
	prev := snapOf(rec("2020 Grand Caravan", "G100", 31000))
	current := []domain.ListingRecord{
		rec("2020 Grand Caravan", "G100", 31000),
		rec("2024 Durango", "D200", 62000),
	}
	fetcher := &fakeFetcher{records: current}
	snaps := &memSnapshotStore{snap: prev, commitErr: errors.New("connection refused")}
	runs := &memRunStore{}
	o, pub := newTestOrchestrator(Config{}, fetcher, snaps, runs, nil)

	summary, err := o.RunOnce(context.Background())
	if !errors.Is(err, domain.ErrPersistFailed) {
		t.Fatalf("err = %v, want ErrPersistFailed", err)
	}
	if summary.Stage != domain.StageAborted {
		t.Errorf("stage = %s, want ABORTED", summary.Stage)
	}

	// Publishes happened before the commit, but the stored snapshot must not
	// advance: the next run re-detects the same events and the post ledger
	// absorbs the duplicates.
	if len(pub.order) != 1 {
		t.Errorf("publish calls = %d, want 1", len(pub.order))
	}
	if len(snaps.snap) != 1 {
		t.Errorf("stored snapshot size = %d, want unchanged 1", len(snaps.snap))
	}
	if len(runs.finished) != 1 || runs.finished[0].Stage != domain.StageAborted {
		t.Errorf("aborted run not recorded: %+v", runs.finished)
	}
}

func TestRunOnceScrapeFailureAborts(t *testing.T) {
	fetcher := &fakeFetcher{err: domain.ErrScrapeFailed}
	snaps := &memSnapshotStore{snap: snapOf(rec("2022 Ram 1500", "A100", 45000))}
	runs := &memRunStore{}
	o, pub := newTestOrchestrator(Config{}, fetcher, snaps, runs, nil)

	summary, err := o.RunOnce(context.Background())
	if err == nil {
		t.Fatal("want error")
	}
	if summary.Stage != domain.StageAborted {
		t.Errorf("stage = %s, want ABORTED", summary.Stage)
	}
	if summary.AbortReason == "" {
		t.Error("abort reason empty")
	}
	if len(pub.order) != 0 {
		t.Errorf("publish calls = %d, want 0", len(pub.order))
	}
	if snaps.commits != 0 {
		t.Errorf("commits = %d, want 0", snaps.commits)
	}
}

func TestRunOnceScrapeRetriesThenSucceeds(t *testing.T) {
	fetcher := &fakeFetcher{
		records: []domain.ListingRecord{rec("2023 Hornet", "H1", 39000)},
		failN:   2,
	}
	snaps := &memSnapshotStore{snap: domain.Snapshot{}}
	o, _ := newTestOrchestrator(Config{RetryAttempts: 3, RetryBackoff: time.Millisecond}, fetcher, snaps, &memRunStore{}, nil)

	if _, err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetch calls = %d, want 3", fetcher.calls)
	}
	if snaps.commits != 1 {
		t.Errorf("commits = %d, want 1", snaps.commits)
	}
}

func TestRunOnceLockHeld(t *testing.T) {
	fetcher := &fakeFetcher{records: []domain.ListingRecord{rec("2023 Hornet", "H1", 39000)}}
	locks := &fakeLocks{held: true}
	o, _ := newTestOrchestrator(Config{}, fetcher, &memSnapshotStore{snap: domain.Snapshot{}}, &memRunStore{}, locks)

	if _, err := o.RunOnce(context.Background()); !errors.Is(err, domain.ErrRunActive) {
		t.Fatalf("err = %v, want ErrRunActive", err)
	}
	if fetcher.calls != 0 {
		t.Errorf("fetch calls = %d, want 0", fetcher.calls)
	}
}

func TestRunOnceReleasesLock(t *testing.T) {
	locks := &fakeLocks{}
	fetcher := &fakeFetcher{records: []domain.ListingRecord{rec("2023 Hornet", "H1", 39000)}}
	o, _ := newTestOrchestrator(Config{}, fetcher, &memSnapshotStore{snap: domain.Snapshot{}}, &memRunStore{}, locks)

	if _, err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if locks.acquired != 1 || locks.released != 1 {
		t.Errorf("lock acquired %d released %d, want 1/1", locks.acquired, locks.released)
	}
}

func TestRunOncePublishFailureStillCommits(t *testing.T) {
	prev := snapOf(rec("2022 Ram 1500", "A100", 45000))
	current := []domain.ListingRecord{
		rec("2022 Ram 1500", "A100", 45000),
		rec("2024 Durango", "D200", 62000),
	}
	fetcher := &fakeFetcher{records: current}
	snaps := &memSnapshotStore{snap: prev}
	runs := &memRunStore{}
	o, pub := newTestOrchestrator(Config{}, fetcher, snaps, runs, nil)
	pub.failKind = domain.EventNew

	summary, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.PublishFails != 1 {
		t.Errorf("publish fails = %d, want 1", summary.PublishFails)
	}
	// A failed publish records the outcome but does not hold the snapshot
	// back; the run record is the retry surface, not a re-diff.
	if snaps.commits != 1 {
		t.Errorf("commits = %d, want 1", snaps.commits)
	}
	if len(runs.items) != 1 {
		t.Fatalf("run items = %d, want 1", len(runs.items))
	}
	if runs.items[0].Publish.Status != domain.PublishStatusFailed {
		t.Errorf("item status = %s, want FAILED", runs.items[0].Publish.Status)
	}
}

func TestCheckSanityDisabledRatio(t *testing.T) {
	o := &Orchestrator{cfg: Config{MinInventoryAbs: 10, MinInventoryRatio: 0}, logger: testLogger()}
	if err := o.checkSanity(1000, 10); err != nil {
		t.Errorf("checkSanity = %v, want nil with ratio disabled", err)
	}
	if err := o.checkSanity(1000, 9); !errors.Is(err, domain.ErrSanityGate) {
		t.Errorf("checkSanity = %v, want ErrSanityGate", err)
	}
}
