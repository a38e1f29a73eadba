package syncer

import (
	"fmt"
	"sync"
)

// State is the phase of a sync run as seen by observers
type State string

const (
	StateNone        State = "none"
	StateDownloading State = "downloading"
	StateDone        State = "done"
)

// Progress is a snapshot of one sync run. Downloaded and Goal are set
// while downloading, Message once done.
type Progress struct {
	State      State
	Downloaded int
	Goal       int
	Message    string
}

func (p Progress) String() string {
	switch p.State {
	case StateDownloading:
		return fmt.Sprintf("downloading %d/%d", p.Downloaded, p.Goal)
	case StateDone:
		return p.Message
	default:
		return string(StateNone)
	}
}

// Reporter receives every progress update of a run, in order
type Reporter func(Progress)

// tracker owns the progress of a single run. It only moves forward:
// none, then downloading with a growing count, then done.
type tracker struct {
	mu      sync.Mutex
	current Progress
	report  Reporter
}

func newTracker(report Reporter) *tracker {
	return &tracker{
		current: Progress{State: StateNone},
		report:  report,
	}
}

func (t *tracker) start(goal, downloaded int) {
	t.update(func(p *Progress) bool {
		if p.State != StateNone {
			return false
		}
		p.State = StateDownloading
		p.Goal = goal
		p.Downloaded = downloaded
		return true
	})
}

func (t *tracker) advance() {
	t.update(func(p *Progress) bool {
		if p.State != StateDownloading {
			return false
		}
		p.Downloaded++
		return true
	})
}

func (t *tracker) done(message string) {
	t.update(func(p *Progress) bool {
		if p.State != StateDownloading {
			return false
		}
		p.State = StateDone
		p.Message = message
		return true
	})
}

func (t *tracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *tracker) update(fn func(p *Progress) bool) {
	t.mu.Lock()
	changed := fn(&t.current)
	p := t.current
	t.mu.Unlock()

	if changed && t.report != nil {
		t.report(p)
	}
}
