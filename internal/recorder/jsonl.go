package recorder

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

// jsonlEntry is one line of a JSONLRecorder's log: a completed exchange,
// request through response, independent of any particular archive format.
type jsonlEntry struct {
	URL         string    `json:"url"`
	Method      string    `json:"method"`
	StatusCode  int       `json:"status_code,omitempty"`
	Error       string    `json:"error,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	RespondedAt time.Time `json:"responded_at,omitempty"`
}

// JSONLRecorder writes one JSON object per line for every completed
// exchange, the default lightweight alternative to a full WARC writer.
// Grounded on the Recorder interface's fixed six-event sequence: only
// PreRequest and Response carry enough to build one line, the data-chunk
// events are ignored.
type JSONLRecorder struct {
	NoOp
	mu  sync.Mutex
	enc *json.Encoder

	pendingMu sync.Mutex
	pending   map[string]time.Time
}

func NewJSONLRecorder(w io.Writer) *JSONLRecorder {
	return &JSONLRecorder{
		enc:     json.NewEncoder(w),
		pending: make(map[string]time.Time),
	}
}

func (r *JSONLRecorder) PreRequest(req *types.Request) {
	r.pendingMu.Lock()
	r.pending[req.URL.String()] = time.Now()
	r.pendingMu.Unlock()
}

func (r *JSONLRecorder) Response(req *types.Request, resp *types.Response, err error) {
	key := req.URL.String()
	r.pendingMu.Lock()
	startedAt, ok := r.pending[key]
	delete(r.pending, key)
	r.pendingMu.Unlock()
	if !ok {
		startedAt = time.Now()
	}

	entry := jsonlEntry{
		URL:         key,
		Method:      req.Method,
		RequestedAt: startedAt,
		RespondedAt: time.Now(),
	}
	if resp != nil {
		entry.StatusCode = resp.StatusCode
	}
	if err != nil {
		entry.Error = err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.enc.Encode(entry)
}

var _ Recorder = (*JSONLRecorder)(nil)
