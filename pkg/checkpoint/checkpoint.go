package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"favmirror/pkg/logger"
)

var bucketRuns = []byte("runs")

// ErrNotFound is returned when no run matches a lookup
var ErrNotFound = errors.New("run not found")

// Strategy names the kind of sync a run performed
type Strategy string

const (
	StrategyIncremental Strategy = "incremental"
	StrategyFull        Strategy = "full"
)

// State is the lifecycle state of a run
type State string

const (
	StateRunning State = "running"
	StateDone    State = "done"
	StateAborted State = "aborted"
)

// Run is one journaled sync invocation
type Run struct {
	ID         string   `json:"id"`
	Strategy   Strategy `json:"strategy"`
	UserID     int      `json:"user_id"`
	Goal       int      `json:"goal"`
	Downloaded int      `json:"downloaded"`
	// Cursor is the listing offset of the page being processed and
	// CursorDownloaded the progress counter when that page started.
	Cursor           int       `json:"cursor"`
	CursorDownloaded int       `json:"cursor_downloaded"`
	State            State     `json:"state"`
	Message          string    `json:"message,omitempty"`
	Error            string    `json:"error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Resumable reports whether a full sync can continue from this run
func (r *Run) Resumable() bool {
	return r.Strategy == StrategyFull && r.State != StateDone
}

// Journal records sync runs in a bbolt file
type Journal struct {
	db     *bolt.DB
	path   string
	logger logger.Logger
	now    func() time.Time
}

// Open opens or creates the journal at path
func Open(path string, log logger.Logger) (*Journal, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}

	return &Journal{db: db, path: path, logger: log, now: time.Now}, nil
}

// Path returns the journal file location
func (j *Journal) Path() string {
	return j.path
}

// Close closes the underlying database
func (j *Journal) Close() error {
	return j.db.Close()
}

// Begin records the start of a run
func (j *Journal) Begin(strategy Strategy, userID, goal int) (*Run, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}

	now := j.now()
	run := &Run{
		ID:        id.String(),
		Strategy:  strategy,
		UserID:    userID,
		Goal:      goal,
		State:     StateRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := j.put(run); err != nil {
		return nil, err
	}

	j.logger.DebugWithFields("Run started", map[string]interface{}{
		"run_id":   run.ID,
		"strategy": string(strategy),
		"user_id":  userID,
		"goal":     goal,
	})
	return run, nil
}

// Page records that the page at cursor started with downloaded items done
func (j *Journal) Page(run *Run, cursor, downloaded int) error {
	run.Cursor = cursor
	run.CursorDownloaded = downloaded
	run.Downloaded = downloaded
	run.UpdatedAt = j.now()
	return j.put(run)
}

// Finish marks a run done
func (j *Journal) Finish(run *Run, downloaded int, message string) error {
	now := j.now()
	run.Downloaded = downloaded
	run.State = StateDone
	run.Message = message
	run.UpdatedAt = now
	run.FinishedAt = now
	return j.put(run)
}

// Fail marks a run aborted with the error that stopped it
func (j *Journal) Fail(run *Run, downloaded int, cause error) error {
	now := j.now()
	run.Downloaded = downloaded
	run.State = StateAborted
	if cause != nil {
		run.Error = cause.Error()
	}
	run.UpdatedAt = now
	run.FinishedAt = now

	j.logger.WarnWithFields("Run aborted", map[string]interface{}{
		"run_id":     run.ID,
		"strategy":   string(run.Strategy),
		"downloaded": downloaded,
		"cursor":     run.Cursor,
		"error":      run.Error,
	})
	return j.put(run)
}

// Get loads a run by id
func (j *Journal) Get(id string) (*Run, error) {
	var run *Run
	err := j.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		run = &Run{}
		return json.Unmarshal(data, run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Latest returns the most recently started run of strategy for userID
func (j *Journal) Latest(strategy Strategy, userID int) (*Run, error) {
	runs, err := j.all()
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if run.Strategy == strategy && run.UserID == userID {
			return run, nil
		}
	}
	return nil, ErrNotFound
}

// List returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (j *Journal) List(limit int) ([]*Run, error) {
	runs, err := j.all()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// all returns every run sorted newest first
func (j *Journal) all() ([]*Run, error) {
	var runs []*Run
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("failed to decode run: %w", err)
			}
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// v7 ids sort by creation time, so they break StartedAt ties
	sort.SliceStable(runs, func(a, b int) bool {
		if !runs[a].StartedAt.Equal(runs[b].StartedAt) {
			return runs[a].StartedAt.After(runs[b].StartedAt)
		}
		return runs[a].ID > runs[b].ID
	})
	return runs, nil
}

func (j *Journal) put(run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).Put([]byte(run.ID), data)
	})
}
