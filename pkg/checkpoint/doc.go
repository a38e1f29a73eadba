// Package checkpoint journals sync runs so an interrupted full sync can
// be resumed.
//
// Runs are stored as JSON values in the "runs" bucket of a bbolt file,
// keyed by a time-ordered UUID. The syncer calls Begin when a run
// starts, Page at the start of every listing page and Finish or Fail at
// the end. Page records the cursor together with the progress counter at
// that moment, which is exactly what a resumed full sync needs:
//
//	run, err := journal.Latest(checkpoint.StrategyFull, userID)
//	if err == nil && run.Resumable() {
//	    _, err = s.ResumeFullSync(ctx, run)
//	}
package checkpoint
