package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"favmirror/pkg/syncer"
)

const (
	ProgressBar   = "━"
	ProgressEmpty = "─"
	barWidth      = 20
	// plain output prints one line per this many percent
	plainStep = 10
)

// ProgressPrinter renders sync progress. On a terminal it redraws a
// single line; otherwise it prints a line every plainStep percent.
type ProgressPrinter struct {
	mu         sync.Mutex
	out        io.Writer
	label      string
	tty        bool
	startTime  time.Time
	startCount int
	drawn      bool
	lastStep   int
	now        func() time.Time
}

// NewProgressPrinter creates a printer writing to out
func NewProgressPrinter(out io.Writer, label string) *ProgressPrinter {
	return &ProgressPrinter{
		out:      out,
		label:    label,
		tty:      IsTerminal(out),
		lastStep: -1,
		now:      time.Now,
	}
}

// Update renders p. It has the signature of syncer.Reporter.
func (pp *ProgressPrinter) Update(p syncer.Progress) {
	if IsQuietMode() {
		return
	}

	pp.mu.Lock()
	defer pp.mu.Unlock()

	switch p.State {
	case syncer.StateDownloading:
		if pp.startTime.IsZero() {
			pp.startTime = pp.now()
			pp.startCount = p.Downloaded
		}
		if pp.tty {
			pp.redraw(pp.line(p))
			return
		}
		step := percent(p.Downloaded, p.Goal) / plainStep
		if step != pp.lastStep {
			pp.lastStep = step
			fmt.Fprintln(pp.out, pp.line(p))
		}
	case syncer.StateDone:
		if pp.drawn {
			fmt.Fprintln(pp.out)
		}
		elapsed := time.Duration(0)
		if !pp.startTime.IsZero() {
			elapsed = pp.now().Sub(pp.startTime)
		}
		fmt.Fprintf(pp.out, "%s %s %s\n", Green("✓"), p.Message, Dim("in "+formatDuration(elapsed)))
		pp.drawn = false
	}
}

// Abort ends an in-place line so following output starts on a new line
func (pp *ProgressPrinter) Abort() {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if pp.drawn {
		fmt.Fprintln(pp.out)
		pp.drawn = false
	}
}

func (pp *ProgressPrinter) line(p syncer.Progress) string {
	filled := min(percent(p.Downloaded, p.Goal)*barWidth/100, barWidth)
	bar := strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, barWidth-filled)

	return fmt.Sprintf("%s [%s] %d/%d • %.1f/min • %s",
		Cyan(pp.label),
		bar,
		p.Downloaded,
		p.Goal,
		pp.rate(p.Downloaded),
		pp.eta(p.Downloaded, p.Goal),
	)
}

// redraw replaces the current terminal line
func (pp *ProgressPrinter) redraw(line string) {
	fmt.Fprintf(pp.out, "\r\033[K%s", line)
	pp.drawn = true
}

// rate is items per minute since the first update
func (pp *ProgressPrinter) rate(downloaded int) float64 {
	elapsed := pp.now().Sub(pp.startTime).Minutes()
	if elapsed <= 0 {
		return 0
	}
	return float64(downloaded-pp.startCount) / elapsed
}

// eta estimates time remaining
func (pp *ProgressPrinter) eta(downloaded, goal int) string {
	done := downloaded - pp.startCount
	if done <= 0 {
		return "calculating..."
	}
	if downloaded >= goal {
		return "0s"
	}

	perItem := pp.now().Sub(pp.startTime) / time.Duration(done)
	return formatDuration(perItem * time.Duration(goal-downloaded))
}

func percent(downloaded, goal int) int {
	if goal <= 0 {
		return 100
	}
	return min(downloaded*100/goal, 100)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	} else {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
