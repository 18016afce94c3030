package db

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrFeedNotFound     = errors.New("db: feed not found")
	ErrDownloadNotFound = errors.New("db: download not found")
)

// DatabaseError wraps a storage failure with the keys involved.
type DatabaseError struct {
	Op         string
	FeedID     string
	DownloadID string
	Err        error
}

func (e *DatabaseError) Error() string {
	msg := fmt.Sprintf("db: %s", e.Op)
	if e.FeedID != "" {
		msg = fmt.Sprintf("%s feed=%s", msg, e.FeedID)
	}
	if e.DownloadID != "" {
		msg = fmt.Sprintf("%s download=%s", msg, e.DownloadID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

func opErr(op, feedID, downloadID string, err error) error {
	if err == nil {
		return nil
	}
	return &DatabaseError{Op: op, FeedID: feedID, DownloadID: downloadID, Err: err}
}
