package syncer

import (
	"context"

	"favmirror/pkg/checkpoint"
	"favmirror/pkg/gallery"
)

// Gallery is the read side of a sync: the remote favorites listing and
// post details
type Gallery interface {
	FetchListing(ctx context.Context, userID, pid int) ([]int, error)
	FetchDetail(ctx context.Context, postID int) (*gallery.Post, error)
}

// Store is the write side of a sync: the local mirror
type Store interface {
	CheckExisting(ctx context.Context, ids []int) ([]int, error)
	Missing(ctx context.Context, ids []int) ([]int, error)
	Upload(ctx context.Context, post *gallery.Post) error
}

// Journal records run state so aborted full syncs can be resumed
type Journal interface {
	Begin(strategy checkpoint.Strategy, userID, goal int) (*checkpoint.Run, error)
	Page(run *checkpoint.Run, cursor, downloaded int) error
	Finish(run *checkpoint.Run, downloaded int, message string) error
	Fail(run *checkpoint.Run, downloaded int, cause error) error
}
