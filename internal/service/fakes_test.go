package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"crmsync/internal/client/crm"
	"crmsync/internal/models"
	gormrepository "crmsync/internal/repository/gorm"
	"crmsync/internal/strategy"
	"crmsync/internal/testutil"
	"crmsync/internal/worker"
)

// fakeCRM serves canned pages keyed by list root and cursor and records
// every upsert.
type fakeCRM struct {
	mu       sync.Mutex
	pages    map[string]map[string]crm.Page
	pageErrs map[string]error
	block    chan struct{}
	upserts  []crm.UpsertRequest
	failIDs  map[string]error
	now      time.Time
	seq      int
}

func newFakeCRM(now time.Time) *fakeCRM {
	return &fakeCRM{
		pages:    map[string]map[string]crm.Page{},
		pageErrs: map[string]error{},
		failIDs:  map[string]error{},
		now:      now,
	}
}

func (f *fakeCRM) setPage(root, after string, page crm.Page) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pages[root] == nil {
		f.pages[root] = map[string]crm.Page{}
	}
	f.pages[root][after] = page
}

func (f *fakeCRM) Page(ctx context.Context, req crm.PageRequest) (crm.Page, error) {
	if f.block != nil {
		select {
		case <-ctx.Done():
			return crm.Page{}, ctx.Err()
		case <-f.block:
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := req.Root + "@" + req.After
	if err, ok := f.pageErrs[key]; ok {
		delete(f.pageErrs, key)
		return crm.Page{}, err
	}
	if p, ok := f.pages[req.Root][req.After]; ok {
		return p, nil
	}
	return crm.Page{}, nil
}

func (f *fakeCRM) Upsert(ctx context.Context, req crm.UpsertRequest) (crm.RecordRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, req)
	if name, ok := req.Input["name"].(string); ok {
		if err, fail := f.failIDs[name]; fail {
			return crm.RecordRef{}, err
		}
	}
	id := req.ID
	if id == "" {
		f.seq++
		id = fmt.Sprintf("remote-%d", f.seq)
	}
	at := f.now
	return crm.RecordRef{ID: id, UpdatedAt: &at}, nil
}

func (f *fakeCRM) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

func accountNodes(t *testing.T, from, n int, updatedAt time.Time) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, n)
	for i := from; i < from+n; i++ {
		raw, err := json.Marshal(map[string]any{
			"id":        fmt.Sprintf("acc-%03d", i),
			"updatedAt": updatedAt.Format(time.RFC3339),
			"name":      fmt.Sprintf("Account %d", i),
			"domain":    fmt.Sprintf("a%d.example.com", i),
		})
		require.NoError(t, err)
		out = append(out, raw)
	}
	return out
}

type inlineSubmitter struct{}

func (inlineSubmitter) Submit(name string, fn func(ctx context.Context)) error {
	fn(context.Background())
	return nil
}

type testEnv struct {
	db       *gorm.DB
	store    *gormrepository.Store
	api      *fakeCRM
	registry *strategy.Registry
	errors   *SyncErrorService
	runner   *StrategyRunner
	sync     *DataSyncService
	pool     *worker.Pool
	now      time.Time
}

func newTestEnv(t *testing.T, strategies ...string) *testEnv {
	t.Helper()
	if len(strategies) == 0 {
		strategies = strategy.Known()
	}
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	gdb := testutil.OpenSQLite(t)
	store := gormrepository.New(gdb)
	api := newFakeCRM(now)
	reg, err := strategy.Build(strategies, strategy.Deps{DB: gdb, API: api, PageSize: 50})
	require.NoError(t, err)

	errs := &SyncErrorService{Repo: store, Retention: 24 * time.Hour}
	runner := &StrategyRunner{Positions: store, Errors: errs, PushBatchSize: 50}
	pool := worker.NewPool(8, nil)
	pool.Start(2)
	t.Cleanup(pool.Stop)

	return &testEnv{
		db:       gdb,
		store:    store,
		api:      api,
		registry: reg,
		errors:   errs,
		runner:   runner,
		pool:     pool,
		now:      now,
		sync: &DataSyncService{
			Registry: reg,
			Runner:   runner,
			Status:   &StatusTracker{Repo: store, Owner: "test", TTL: time.Minute},
			Runs:     &RunRecorder{Repo: store},
			Errors:   store,
			Workers:  pool,
			WaitPoll: 10 * time.Millisecond,
		},
	}
}

func (e *testEnv) seedOpportunities(t *testing.T, n int, base time.Time, mutate func(i int, o *models.Opportunity)) []models.Opportunity {
	t.Helper()
	out := make([]models.Opportunity, 0, n)
	for i := 1; i <= n; i++ {
		changed := base.Add(time.Duration(i) * time.Second)
		o := models.Opportunity{
			Name:     fmt.Sprintf("Deal %d", i),
			Stage:    "open",
			Amount:   decimal.NewFromInt(int64(i * 100)),
			Currency: "USD",
		}
		o.PartitionID = models.DefaultPartition
		o.ChangedAt = &changed
		o.NeedsResync = true
		if mutate != nil {
			mutate(i, &o)
		}
		require.NoError(t, e.db.Create(&o).Error)
		out = append(out, o)
	}
	return out
}

func (e *testEnv) saveCursor(t *testing.T, entityType, cursor string) {
	t.Helper()
	require.NoError(t, e.store.InTx(context.Background(), func(tx *gorm.DB) error {
		return e.store.SaveCursorTx(context.Background(), tx, entityType, models.DefaultPartition, &cursor, e.now)
	}))
}

// heldSubmitter keeps jobs until the test releases them.
type heldSubmitter struct {
	mu   sync.Mutex
	jobs []func(ctx context.Context)
}

func (h *heldSubmitter) Submit(name string, fn func(ctx context.Context)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, fn)
	return nil
}

func (h *heldSubmitter) release(ctx context.Context) {
	h.mu.Lock()
	jobs := h.jobs
	h.jobs = nil
	h.mu.Unlock()
	for _, fn := range jobs {
		fn(ctx)
	}
}
