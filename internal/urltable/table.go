// Package urltable implements the URL Table of §4.1: the linearizable
// frontier of URLRecords plus the visits dedup index, with interchangeable
// durable backends. Grounded on the teacher's deleted storage layer's
// memory/SQL split and on nabbar-golib's gorm wiring style for the SQLite
// backend.
package urltable

import (
	"context"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

// Table is the URL Table interface every backend implements. Every
// operation is linearizable: concurrent callers observe a single total
// order of state transitions per URL.
type Table interface {
	// AddMany inserts fresh todo records for urls not already present.
	// Duplicates (existing URL) are silently skipped. Returns the count
	// actually inserted.
	AddMany(ctx context.Context, records []*types.URLRecord) (inserted int, err error)

	// CheckOut atomically selects and returns up to n records matching
	// status, transitioning them to in_progress, so no two callers are ever
	// handed the same record. Returns fewer than n if not enough match.
	CheckOut(ctx context.Context, status types.Status, n int) ([]*types.URLRecord, error)

	// CheckIn reverts a record previously checked out back to status
	// without altering other fields (used when a worker aborts before
	// fetching).
	CheckIn(ctx context.Context, url string, status types.Status) error

	// UpdateOne applies fields to the record identified by url and advances
	// its status, incrementing TryCount when status is StatusError.
	UpdateOne(ctx context.Context, url string, status types.Status, statusCode int) error

	// Release marks a record permanently done or skipped, outside the
	// todo/in_progress/error cycle.
	Release(ctx context.Context, url string, status types.Status) error

	// ResetInProgress reverts every in_progress record back to todo. Called
	// once at engine startup so a crash mid-fetch doesn't strand work: the
	// table's own durability (SQLite, Mongo) only guarantees the record
	// survives the crash, not that it gets retried, since nothing else ever
	// transitions an orphaned in_progress record back out of that state.
	// Returns the number of records reset.
	ResetInProgress(ctx context.Context) (int, error)

	// AddVisits ingests prior-crawl visit records for dedup lookups.
	AddVisits(ctx context.Context, visits []*types.Visit) error

	// GetRevisitID returns the WARC-Record-ID of a prior visit with the same
	// payload digest, if any, enabling revisit-record short-circuiting.
	GetRevisitID(ctx context.Context, payloadDigest string) (warcID string, found bool, err error)

	// Get returns the current record for url, if any.
	Get(ctx context.Context, url string) (*types.URLRecord, bool, error)

	// Count returns how many records currently have the given status.
	Count(ctx context.Context, status types.Status) (int, error)

	Close() error
}
