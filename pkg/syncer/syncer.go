package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"favmirror/pkg/checkpoint"
	"favmirror/pkg/config"
	errs "favmirror/pkg/errors"
	"favmirror/pkg/gallery"
	"favmirror/pkg/logger"
	"favmirror/pkg/metrics"
)

const (
	incrementalDone = "Synced %d posts."
	fullDone        = "Synced %d favorites."
)

// Syncer mirrors a user's favorites from the gallery into the local store
type Syncer struct {
	gallery      Gallery
	store        Store
	journal      Journal
	report       Reporter
	logger       logger.Logger
	pageSize     int
	safetyMargin int
	now          func() time.Time
}

// Option configures a Syncer
type Option func(*Syncer)

// WithJournal records every run in j
func WithJournal(j Journal) Option {
	return func(s *Syncer) { s.journal = j }
}

// WithReporter sends progress updates to r
func WithReporter(r Reporter) Option {
	return func(s *Syncer) { s.report = r }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// WithPageSize sets the cursor step. It must match the number of items
// the gallery lists per page.
func WithPageSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithSafetyMargin sets the minimum starting cursor of incremental syncs
func WithSafetyMargin(n int) Option {
	return func(s *Syncer) {
		if n >= 0 {
			s.safetyMargin = n
		}
	}
}

// WithSyncConfig applies the sync section of the configuration
func WithSyncConfig(cfg config.SyncConfig) Option {
	return func(s *Syncer) {
		WithPageSize(cfg.PageSize)(s)
		WithSafetyMargin(cfg.SafetyMargin)(s)
	}
}

// New creates a Syncer reading from g and writing to st
func New(g Gallery, st Store, opts ...Option) *Syncer {
	s := &Syncer{
		gallery:      g,
		store:        st,
		logger:       logger.GetLogger(),
		pageSize:     gallery.ListingPageSize,
		safetyMargin: DefaultSafetyMargin,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// pageFunc handles every listing entry of one page. Only the first fresh
// ids lie outside the range the previous page covered; the rest are the
// overlap of the clamped final page, still checked because the listing
// may have shifted since that page was fetched.
type pageFunc func(ctx context.Context, ids []int, fresh int, t *tracker) error

// walk describes one pass over the favorites listing
type walk struct {
	strategy   checkpoint.Strategy
	userID     int
	goal       int
	downloaded int
	cursors    []int
	// from is the index in cursors of the first page to visit
	from    int
	message string
	page    pageFunc
}

// Sync uploads favorites that the local store is missing, scanning from
// max(totalFavorites-storedCount, safety margin) down to the newest page.
func (s *Syncer) Sync(ctx context.Context, userID, totalFavorites, storedCount int) (Progress, error) {
	difference := totalFavorites - storedCount
	start := IncrementalStart(difference, s.safetyMargin)

	s.logger.InfoWithFields("Starting incremental sync", map[string]interface{}{
		"user_id":         userID,
		"total_favorites": totalFavorites,
		"stored":          storedCount,
		"difference":      difference,
		"start_cursor":    start,
	})

	return s.run(ctx, walk{
		strategy: checkpoint.StrategyIncremental,
		userID:   userID,
		goal:     max(difference, 0),
		cursors:  Cursors(start, s.pageSize),
		message:  incrementalDone,
		page:     s.incrementalPage,
	})
}

// FullSync walks the whole favorites listing. Items the store already has
// count toward progress without being uploaded again.
func (s *Syncer) FullSync(ctx context.Context, userID, totalFavorites int) (Progress, error) {
	s.logger.InfoWithFields("Starting full sync", map[string]interface{}{
		"user_id":         userID,
		"total_favorites": totalFavorites,
	})

	return s.run(ctx, walk{
		strategy: checkpoint.StrategyFull,
		userID:   userID,
		goal:     totalFavorites,
		cursors:  Cursors(totalFavorites, s.pageSize),
		message:  fullDone,
		page:     s.fullPage,
	})
}

// ResumeFullSync continues an aborted full sync from the page it was on,
// with progress restored to the count recorded when that page started.
func (s *Syncer) ResumeFullSync(ctx context.Context, prev *checkpoint.Run) (Progress, error) {
	if prev == nil || !prev.Resumable() {
		return Progress{State: StateNone}, errors.New("run cannot be resumed")
	}

	cursors := Cursors(prev.Goal, s.pageSize)
	from := slices.Index(cursors, prev.Cursor)
	if from < 0 {
		cursors = Cursors(prev.Cursor, s.pageSize)
		from = 0
	}

	s.logger.InfoWithFields("Resuming full sync", map[string]interface{}{
		"user_id":     prev.UserID,
		"resumed_run": prev.ID,
		"cursor":      prev.Cursor,
		"downloaded":  prev.CursorDownloaded,
		"goal":        prev.Goal,
	})

	return s.run(ctx, walk{
		strategy:   checkpoint.StrategyFull,
		userID:     prev.UserID,
		goal:       prev.Goal,
		downloaded: prev.CursorDownloaded,
		cursors:    cursors,
		from:       from,
		message:    fullDone,
		page:       s.fullPage,
	})
}

// SyncSingle fetches one post and uploads it. The caller decides whether
// the store already has it.
func (s *Syncer) SyncSingle(ctx context.Context, postID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.mirror(ctx, postID)
}

func (s *Syncer) run(ctx context.Context, w walk) (Progress, error) {
	began := s.now()
	strategy := string(w.strategy)
	t := newTracker(s.report)
	t.start(w.goal, w.downloaded)

	run := s.begin(w)

	for i := w.from; i < len(w.cursors); i++ {
		pid := w.cursors[i]
		if err := ctx.Err(); err != nil {
			return s.abort(w, t, run, began, fmt.Errorf("sync interrupted before cursor %d: %w", pid, err))
		}

		s.checkpoint(run, pid, t.snapshot().Downloaded)

		ids, err := s.gallery.FetchListing(ctx, w.userID, pid)
		if err != nil {
			return s.abort(w, t, run, began, fmt.Errorf("listing at cursor %d: %w", pid, err))
		}
		metrics.RecordPage(strategy)

		fresh := len(ids)
		if i > 0 {
			fresh = min(fresh, w.cursors[i-1]-pid)
		}

		s.logger.DebugWithFields("Processing listing page", map[string]interface{}{
			"strategy": strategy,
			"cursor":   pid,
			"items":    len(ids),
			"fresh":    fresh,
		})

		if err := w.page(ctx, ids, fresh, t); err != nil {
			return s.abort(w, t, run, began, fmt.Errorf("page at cursor %d: %w", pid, err))
		}

		p := t.snapshot()
		logger.LogSyncProgress(s.logger, strategy, p.Downloaded, p.Goal)
	}

	downloaded := t.snapshot().Downloaded
	message := fmt.Sprintf(w.message, downloaded)
	t.done(message)

	if run != nil {
		if err := s.journal.Finish(run, downloaded, message); err != nil {
			s.logger.WithError(err).Warn("Failed to record finished run")
		}
	}
	metrics.RecordRun(strategy, string(checkpoint.StateDone), s.now().Sub(began))

	s.logger.InfoWithFields("Sync completed", map[string]interface{}{
		"strategy":   strategy,
		"user_id":    w.userID,
		"downloaded": downloaded,
		"goal":       w.goal,
		"duration":   s.now().Sub(began).String(),
	})
	return t.snapshot(), nil
}

// incrementalPage uploads the page's missing items, oldest first. The
// store check already skips anything uploaded from an earlier page, so the
// overlap needs no special handling.
func (s *Syncer) incrementalPage(ctx context.Context, ids []int, _ int, t *tracker) error {
	missing, err := s.store.Missing(ctx, ids)
	if err != nil {
		return err
	}
	metrics.RecordSkipped(string(checkpoint.StrategyIncremental), len(ids)-len(missing))

	slices.Reverse(missing)
	for _, id := range missing {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.mirror(ctx, id); err != nil {
			return err
		}
		t.advance()
	}
	return nil
}

// fullPage uploads every item of the page the store does not have,
// oldest first. Progress counts only the fresh items, so the overlap of
// the clamped final page is not counted twice.
func (s *Syncer) fullPage(ctx context.Context, ids []int, fresh int, t *tracker) error {
	counted := make(map[int]struct{}, fresh)
	for _, id := range ids[:fresh] {
		counted[id] = struct{}{}
	}
	ordered := slices.Clone(ids)
	slices.Reverse(ordered)

	existing, err := s.store.CheckExisting(ctx, ordered)
	if err != nil {
		return err
	}
	stored := make(map[int]struct{}, len(existing))
	for _, id := range existing {
		stored[id] = struct{}{}
	}

	skipped := 0
	for _, id := range ordered {
		if err := ctx.Err(); err != nil {
			metrics.RecordSkipped(string(checkpoint.StrategyFull), skipped)
			return err
		}
		_, isFresh := counted[id]
		if _, ok := stored[id]; ok {
			if isFresh {
				skipped++
			}
		} else if err := s.mirror(ctx, id); err != nil {
			metrics.RecordSkipped(string(checkpoint.StrategyFull), skipped)
			return err
		}
		if isFresh {
			t.advance()
		}
	}
	metrics.RecordSkipped(string(checkpoint.StrategyFull), skipped)
	return nil
}

// mirror copies one post into the store. Once started it runs to the end
// even if ctx is cancelled, so no item is left half uploaded.
func (s *Syncer) mirror(ctx context.Context, postID int) error {
	ctx = context.WithoutCancel(ctx)

	post, err := s.gallery.FetchDetail(ctx, postID)
	if err != nil {
		return err
	}

	err = s.store.Upload(ctx, post)
	metrics.RecordUpload(err, errs.TypeOf(err) == errs.ErrorTypeUploadRejected)
	logger.LogUpload(s.logger, postID, len(post.Tags), err)
	return err
}

func (s *Syncer) begin(w walk) *checkpoint.Run {
	if s.journal == nil {
		return nil
	}
	run, err := s.journal.Begin(w.strategy, w.userID, w.goal)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to record run start, continuing without journal")
		return nil
	}
	return run
}

func (s *Syncer) checkpoint(run *checkpoint.Run, cursor, downloaded int) {
	if run == nil {
		return
	}
	if err := s.journal.Page(run, cursor, downloaded); err != nil {
		s.logger.WithError(err).Warn("Failed to record page checkpoint")
	}
}

// abort leaves progress in its last downloading state and marks the run
// aborted
func (s *Syncer) abort(w walk, t *tracker, run *checkpoint.Run, began time.Time, cause error) (Progress, error) {
	p := t.snapshot()

	if run != nil {
		if err := s.journal.Fail(run, p.Downloaded, cause); err != nil {
			s.logger.WithError(err).Warn("Failed to record aborted run")
		}
	}
	metrics.RecordRun(string(w.strategy), string(checkpoint.StateAborted), s.now().Sub(began))

	s.logger.WithError(cause).WithFields(map[string]interface{}{
		"strategy":   string(w.strategy),
		"user_id":    w.userID,
		"downloaded": p.Downloaded,
		"goal":       p.Goal,
	}).Error("Sync aborted")
	return p, cause
}
