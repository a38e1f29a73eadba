package syncer

// DefaultSafetyMargin is the minimum starting cursor of an incremental
// sync. The favorites listing reorders as new favorites arrive, so a scan
// of exactly the estimated gap can miss items.
const DefaultSafetyMargin = 500

// IncrementalStart returns the first cursor of an incremental sync
func IncrementalStart(difference, margin int) int {
	return max(difference, margin)
}

// Cursors returns the listing offsets visited by a walk from start down
// to 0 in steps of step. The start cursor comes first and the last
// cursor is always 0.
func Cursors(start, step int) []int {
	if step <= 0 {
		step = 1
	}
	if start < 0 {
		start = 0
	}

	cursors := make([]int, 0, start/step+2)
	for pid := start; ; pid = max(0, pid-step) {
		cursors = append(cursors, pid)
		if pid == 0 {
			return cursors
		}
	}
}
