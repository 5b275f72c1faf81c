package types

import "time"

// Status is a URLRecord's position in its state machine.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusSkipped    Status = "skipped"
)

// URLRecord is the durable per-URL state kept by the URL Table, keyed by
// canonical URL string. Duplicate inserts are no-ops: first writer wins.
type URLRecord struct {
	URL string `gorm:"primaryKey" bson:"_id"`

	Status   Status `gorm:"index"`
	TryCount int

	// Level is the recursion depth; 0 for seeds.
	Level int

	// TopURL is the earliest ancestor, identifying the crawl root for
	// parent-scope filters.
	TopURL string

	// StatusCode is the last protocol response code, if any.
	StatusCode int

	Referrer string

	// Inline marks a URL discovered as an embedded resource rather than a
	// followed link.
	Inline bool

	LinkType LinkType

	URLEncoding string

	// PostData is the opt. body to send when fetched.
	PostData string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewURLRecord builds a fresh todo record for an insert via add_many.
func NewURLRecord(url string) *URLRecord {
	return &URLRecord{
		URL:       url,
		Status:    StatusTodo,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// Clone returns a value copy safe to hand to a caller as a check_out snapshot.
func (r *URLRecord) Clone() *URLRecord {
	c := *r
	return &c
}

// Visit is one prior-crawl record ingested for deduplication decisions via
// add_visits / get_revisit_id.
type Visit struct {
	URL           string `gorm:"primaryKey" bson:"_id"`
	WARCID        string
	PayloadDigest string
}
