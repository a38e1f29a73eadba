package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"favmirror/internal/testserver"
	"favmirror/pkg/checkpoint"
	"favmirror/pkg/config"
	errs "favmirror/pkg/errors"
	"favmirror/pkg/gallery"
	"favmirror/pkg/localstore"
	"favmirror/pkg/logger"
	"favmirror/pkg/metrics"
	"favmirror/pkg/retry"
)

const userID = 42

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type harness struct {
	remote  *testserver.Gallery
	local   *testserver.Store
	gallery *gallery.Client
	store   *localstore.Client
}

func newHarness(t *testing.T, favorites []int) *harness {
	t.Helper()
	h := &harness{
		remote: testserver.NewGallery(userID, favorites),
		local:  testserver.NewStore(),
	}
	t.Cleanup(h.remote.Close)
	t.Cleanup(h.local.Close)

	tr := retry.NewTransport(retry.NewController(retry.DefaultParams()), retry.WithSleep(noSleep))

	gcfg := config.DefaultConfig().Gallery
	gcfg.BaseURL = h.remote.URL()
	gc, err := gallery.NewClient(gcfg, tr, gallery.WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)
	h.gallery = gc

	scfg := config.DefaultConfig().Store
	scfg.URL = h.local.URL()
	sc, err := localstore.NewClient(scfg, tr, localstore.WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)
	h.store = sc

	return h
}

func (h *harness) syncer(opts ...Option) *Syncer {
	opts = append([]Option{WithLogger(logger.NewNopLogger())}, opts...)
	return New(h.gallery, h.store, opts...)
}

// recorder collects every progress update
type recorder struct {
	mu      sync.Mutex
	updates []Progress
}

func (r *recorder) report(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, p)
}

func (r *recorder) all() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Progress(nil), r.updates...)
}

func assertMonotonic(t *testing.T, updates []Progress) {
	t.Helper()
	require.NotEmpty(t, updates)
	assert.Equal(t, StateDownloading, updates[0].State)
	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].Downloaded, updates[i-1].Downloaded)
		assert.Equal(t, updates[0].Goal, updates[i].Goal)
		if updates[i-1].State == StateDone {
			t.Fatalf("update after done: %+v", updates[i])
		}
	}
}

func openJournal(t *testing.T) *checkpoint.Journal {
	t.Helper()
	j, err := checkpoint.Open(filepath.Join(t.TempDir(), "journal.db"), logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestIncrementalSyncUploadsEveryItemOnce(t *testing.T) {
	h := newHarness(t, testserver.Sequential(120))
	rec := &recorder{}
	pagesBefore := testutil.ToFloat64(metrics.PagesWalked.WithLabelValues("incremental"))

	p, err := h.syncer(WithReporter(rec.report)).Sync(context.Background(), userID, 120, 0)
	require.NoError(t, err)

	assert.Equal(t, StateDone, p.State)
	assert.Equal(t, "Synced 120 posts.", p.Message)
	assert.Equal(t, 120, p.Downloaded)
	assert.Equal(t, 120, p.Goal)

	assert.Equal(t, 120, h.local.TotalUploads())
	for id := 1; id <= 120; id++ {
		assert.Equal(t, 1, h.local.UploadCount(id), "post %d", id)
	}

	// oldest first across the whole run
	assert.Equal(t, 1, h.local.UploadOrder()[0])
	assert.IsIncreasing(t, h.local.UploadOrder())

	assert.Equal(t, 11, h.remote.Requests("favorites"))
	assert.Equal(t, 11.0, testutil.ToFloat64(metrics.PagesWalked.WithLabelValues("incremental"))-pagesBefore)

	updates := rec.all()
	assertMonotonic(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, StateDone, last.State)
	assert.Equal(t, "Synced 120 posts.", last.Message)
}

func TestIncrementalSyncSmallGap(t *testing.T) {
	h := newHarness(t, testserver.Sequential(53))
	h.local.Seed(1, 2, 3)

	p, err := h.syncer().Sync(context.Background(), userID, 53, 3)
	require.NoError(t, err)

	assert.Equal(t, Progress{State: StateDone, Downloaded: 50, Goal: 50, Message: "Synced 50 posts."}, p)
	assert.Equal(t, 11, h.remote.Requests("favorites"))
	assert.Len(t, h.local.UploadedIDs(), 50)
	assert.Equal(t, 50, h.local.TotalUploads())
	for _, id := range []int{1, 2, 3} {
		assert.Zero(t, h.local.UploadCount(id))
	}
}

func TestIncrementalSyncPicksUpNewFavorites(t *testing.T) {
	h := newHarness(t, testserver.Sequential(60))
	s := h.syncer()

	_, err := s.FullSync(context.Background(), userID, 60)
	require.NoError(t, err)
	require.Equal(t, 60, h.local.TotalUploads())

	h.remote.AddFavorites(61, 62, 63)

	p, err := s.Sync(context.Background(), userID, 63, 60)
	require.NoError(t, err)
	assert.Equal(t, "Synced 3 posts.", p.Message)
	assert.Equal(t, 63, h.local.TotalUploads())
	assert.Equal(t, []int{61, 62, 63}, h.local.UploadOrder()[60:])
}

func TestIncrementalSyncStoreAhead(t *testing.T) {
	h := newHarness(t, testserver.Sequential(10))
	h.local.Seed(testserver.Sequential(10)...)

	p, err := h.syncer().Sync(context.Background(), userID, 10, 15)
	require.NoError(t, err)

	assert.Equal(t, 0, p.Goal)
	assert.Equal(t, "Synced 0 posts.", p.Message)
	assert.Zero(t, h.local.TotalUploads())
}

func TestFullSyncIsIdempotent(t *testing.T) {
	h := newHarness(t, testserver.Sequential(120))
	s := h.syncer()

	first, err := s.FullSync(context.Background(), userID, 120)
	require.NoError(t, err)
	assert.Equal(t, Progress{State: StateDone, Downloaded: 120, Goal: 120, Message: "Synced 120 favorites."}, first)
	assert.Equal(t, 120, h.local.TotalUploads())
	assert.Equal(t, 4, h.remote.Requests("favorites"))

	rec := &recorder{}
	second, err := New(h.gallery, h.store, WithLogger(logger.NewNopLogger()), WithReporter(rec.report)).
		FullSync(context.Background(), userID, 120)
	require.NoError(t, err)

	assert.Equal(t, 120, h.local.TotalUploads(), "second run must not upload")
	assert.Equal(t, 120, second.Downloaded)
	assert.Equal(t, "Synced 120 favorites.", second.Message)
	assertMonotonic(t, rec.all())
	for _, u := range rec.all() {
		assert.LessOrEqual(t, u.Downloaded, u.Goal)
	}
}

func TestFullSyncUploadsOnlyMissing(t *testing.T) {
	h := newHarness(t, testserver.Sequential(75))
	for id := 2; id <= 75; id += 2 {
		h.local.Seed(id)
	}
	skippedBefore := testutil.ToFloat64(metrics.ItemsSkipped.WithLabelValues("full"))

	p, err := h.syncer().FullSync(context.Background(), userID, 75)
	require.NoError(t, err)

	assert.Equal(t, 75, p.Downloaded)
	assert.Equal(t, 38, h.local.TotalUploads())
	for id := 1; id <= 75; id += 2 {
		assert.Equal(t, 1, h.local.UploadCount(id))
	}
	assert.Equal(t, 37.0, testutil.ToFloat64(metrics.ItemsSkipped.WithLabelValues("full"))-skippedBefore)
	assert.IsIncreasing(t, h.local.UploadOrder())
}

// shiftingGallery runs shift right after its n-th listing fetch, the way
// favorites added on the site move older entries to later pages mid-walk
type shiftingGallery struct {
	Gallery
	n       int
	fetches int
	shift   func()
}

func (g *shiftingGallery) FetchListing(ctx context.Context, userID, pid int) ([]int, error) {
	ids, err := g.Gallery.FetchListing(ctx, userID, pid)
	g.fetches++
	if g.fetches == g.n {
		g.shift()
	}
	return ids, err
}

func TestListingShiftDuringWalk(t *testing.T) {
	tests := []struct {
		name    string
		run     func(s *Syncer) (Progress, error)
		message string
	}{
		{
			name: "incremental",
			run: func(s *Syncer) (Progress, error) {
				return s.Sync(context.Background(), userID, 60, 0)
			},
			message: "Synced 65 posts.",
		},
		{
			name: "full",
			run: func(s *Syncer) (Progress, error) {
				return s.FullSync(context.Background(), userID, 60)
			},
			message: "Synced 60 favorites.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testserver.Sequential(60))
			g := &shiftingGallery{
				Gallery: h.gallery,
				n:       2,
				shift:   func() { h.remote.AddFavorites(61, 62, 63, 64, 65) },
			}

			// cursors 60, 10, 0: ids 51..55 slide into the overlap of the last page
			s := New(g, h.store, WithLogger(logger.NewNopLogger()), WithSafetyMargin(0))
			p, err := tt.run(s)
			require.NoError(t, err)

			assert.Equal(t, StateDone, p.State)
			assert.Equal(t, tt.message, p.Message)
			assert.Equal(t, 65, h.local.TotalUploads())
			for id := 1; id <= 65; id++ {
				assert.Equal(t, 1, h.local.UploadCount(id), "post %d", id)
			}
		})
	}
}

func TestUploadRejectionAbortsRun(t *testing.T) {
	h := newHarness(t, testserver.Sequential(120))
	h.local.Reject(30, 500)
	journal := openJournal(t)
	rec := &recorder{}

	p, err := h.syncer(WithJournal(journal), WithReporter(rec.report)).Sync(context.Background(), userID, 120, 0)
	require.Error(t, err)

	assert.ErrorIs(t, err, &errs.Error{Type: errs.ErrorTypeUploadRejected})
	assert.Contains(t, err.Error(), "upload post #30")
	assert.Equal(t, StateDownloading, p.State)
	assert.Equal(t, 29, p.Downloaded)
	assert.Equal(t, 29, h.local.TotalUploads())
	assert.Zero(t, h.local.UploadCount(30))

	updates := rec.all()
	assert.Equal(t, StateDownloading, updates[len(updates)-1].State)

	run, err := journal.Latest(checkpoint.StrategyIncremental, userID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StateAborted, run.State)
	assert.Equal(t, 50, run.Cursor)
	assert.Equal(t, 20, run.CursorDownloaded)
	assert.Equal(t, 29, run.Downloaded)
	assert.Contains(t, run.Error, "upload post #30")
}

func TestListingFailureExhaustsRetries(t *testing.T) {
	h := newHarness(t, testserver.Sequential(10))
	h.remote.FailNext("favorites", 503, 503, 503, 503, 503)
	journal := openJournal(t)

	p, err := h.syncer(WithJournal(journal)).FullSync(context.Background(), userID, 10)
	require.Error(t, err)

	assert.Equal(t, errs.ErrorTypeRetriesExhausted, errs.TypeOf(err))
	assert.Equal(t, StateDownloading, p.State)
	assert.Equal(t, 5, h.remote.Requests("favorites"))

	run, err := journal.Latest(checkpoint.StrategyFull, userID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StateAborted, run.State)
	assert.True(t, run.Resumable())
}

func TestResumeFullSyncContinuesFromCursor(t *testing.T) {
	h := newHarness(t, testserver.Sequential(120))
	h.local.Reject(80, 500)
	journal := openJournal(t)

	_, err := h.syncer(WithJournal(journal)).FullSync(context.Background(), userID, 120)
	require.Error(t, err)

	aborted, err := journal.Latest(checkpoint.StrategyFull, userID)
	require.NoError(t, err)
	require.True(t, aborted.Resumable())
	assert.Equal(t, 20, aborted.Cursor)
	assert.Equal(t, 50, aborted.CursorDownloaded)
	assert.Equal(t, 79, aborted.Downloaded)

	h.local.ClearRejections()
	listed := h.remote.Requests("favorites")
	rec := &recorder{}

	p, err := h.syncer(WithJournal(journal), WithReporter(rec.report)).ResumeFullSync(context.Background(), aborted)
	require.NoError(t, err)

	assert.Equal(t, Progress{State: StateDone, Downloaded: 120, Goal: 120, Message: "Synced 120 favorites."}, p)
	assert.Equal(t, 2, h.remote.Requests("favorites")-listed)
	assert.Equal(t, 50, rec.all()[0].Downloaded)
	for id := 1; id <= 120; id++ {
		assert.Equal(t, 1, h.local.UploadCount(id), "post %d", id)
	}

	latest, err := journal.Latest(checkpoint.StrategyFull, userID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StateDone, latest.State)
	assert.NotEqual(t, aborted.ID, latest.ID)
}

func TestResumeRejectsFinishedRun(t *testing.T) {
	h := newHarness(t, testserver.Sequential(1))

	_, err := h.syncer().ResumeFullSync(context.Background(), &checkpoint.Run{Strategy: checkpoint.StrategyFull, State: checkpoint.StateDone})
	assert.Error(t, err)

	_, err = h.syncer().ResumeFullSync(context.Background(), nil)
	assert.Error(t, err)
}

func TestCancellationStopsBetweenItems(t *testing.T) {
	h := newHarness(t, testserver.Sequential(120))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	report := func(p Progress) {
		if p.Downloaded == 5 {
			cancel()
		}
	}

	p, err := h.syncer(WithReporter(report)).Sync(ctx, userID, 120, 0)
	require.Error(t, err)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateDownloading, p.State)
	assert.Equal(t, 5, p.Downloaded)
	assert.Equal(t, 5, h.local.TotalUploads())
}

func TestSyncSingleUploadsUnconditionally(t *testing.T) {
	h := newHarness(t, testserver.Sequential(10))
	h.local.Seed(7)

	require.NoError(t, h.syncer().SyncSingle(context.Background(), 7))
	assert.Equal(t, 1, h.local.UploadCount(7))

	post, ok := h.local.Post(7)
	require.True(t, ok)
	assert.Equal(t, []byte("image-7"), post.Image)
	assert.Equal(t, []testserver.FakeTag{{Name: "tag 7", Kind: "general"}}, post.Tags)
}

func TestSyncSingleUnknownPost(t *testing.T) {
	h := newHarness(t, testserver.Sequential(10))

	err := h.syncer().SyncSingle(context.Background(), 999)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeNotFound, errs.TypeOf(err))
	assert.Zero(t, h.local.TotalUploads())
}

func TestSyncSingleCancelled(t *testing.T) {
	h := newHarness(t, testserver.Sequential(10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.syncer().SyncSingle(ctx, 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.remote.Requests("post"))
}

// cancellingGallery cancels the run while an item is being fetched
type cancellingGallery struct {
	cancel context.CancelFunc
}

func (g *cancellingGallery) FetchListing(_ context.Context, _, _ int) ([]int, error) {
	return []int{2, 1}, nil
}

func (g *cancellingGallery) FetchDetail(_ context.Context, postID int) (*gallery.Post, error) {
	g.cancel()
	return &gallery.Post{ID: postID}, nil
}

type recordingStore struct {
	uploads []int
	ctxErrs []error
}

func (s *recordingStore) CheckExisting(_ context.Context, _ []int) ([]int, error) {
	return nil, nil
}

func (s *recordingStore) Missing(_ context.Context, ids []int) ([]int, error) {
	return ids, nil
}

func (s *recordingStore) Upload(ctx context.Context, post *gallery.Post) error {
	s.uploads = append(s.uploads, post.ID)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return nil
}

func TestStartedItemFinishesAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &recordingStore{}

	s := New(&cancellingGallery{cancel: cancel}, store, WithLogger(logger.NewNopLogger()))
	p, err := s.FullSync(ctx, userID, 2)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []int{1}, store.uploads)
	assert.Equal(t, []error{nil}, store.ctxErrs)
	assert.Equal(t, 1, p.Downloaded)
}

func TestSyncConfigOption(t *testing.T) {
	s := New(nil, nil, WithSyncConfig(config.SyncConfig{PageSize: 20, SafetyMargin: 100}))
	assert.Equal(t, 20, s.pageSize)
	assert.Equal(t, 100, s.safetyMargin)

	s = New(nil, nil, WithSyncConfig(config.SyncConfig{}))
	assert.Equal(t, gallery.ListingPageSize, s.pageSize)
	assert.Equal(t, 0, s.safetyMargin)
}
