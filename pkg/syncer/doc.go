// Package syncer mirrors a user's gallery favorites into the local store.
//
// A Syncer walks the favorites listing from a starting cursor down to the
// newest page in steps of one page, checking each page against the store
// and uploading what is missing. Items inside a page are uploaded oldest
// first so the store fills in a stable forward order.
//
// Strategies:
//
//   - Sync: incremental. The starting cursor is the estimated gap
//     (favorites minus stored) but never less than the safety margin,
//     because the listing shifts as new favorites arrive.
//   - FullSync: every page from the total favorites count down. Items
//     already stored still count toward progress.
//   - ResumeFullSync: a full sync restarted at the page an aborted run
//     was on, using the run recorded in the journal.
//   - SyncSingle: one post, uploaded unconditionally.
//
// Progress goes none, downloading, done. A failed run returns its error
// and leaves progress in its last downloading state. Cancelling the
// context stops the walk between items or pages; an item that has
// started is always finished.
//
// Usage:
//
//	s := syncer.New(galleryClient, storeClient,
//	    syncer.WithJournal(journal),
//	    syncer.WithReporter(printer.Update),
//	)
//	progress, err := s.Sync(ctx, userID, total, stored)
package syncer
