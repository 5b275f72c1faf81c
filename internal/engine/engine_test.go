package engine

import (
	"errors"
	"testing"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:    "idle",
		StateRunning: "running",
		StatePaused:  "paused",
		StateStopped: "stopped",
		State(99):    "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestRecordWorstCategory(t *testing.T) {
	e := &Engine{}

	e.recordWorstCategory(&types.ParserError{URL: "x", Err: types.ErrInvalidURL})
	if got := e.ExitCategory(); got != types.CategoryParser {
		t.Fatalf("ExitCategory = %v, want CategoryParser", got)
	}

	// An uncategorized error must not downgrade the recorded worst category.
	e.recordWorstCategory(errors.New("transient"))
	if got := e.ExitCategory(); got != types.CategoryParser {
		t.Fatalf("ExitCategory after uncategorized error = %v, want CategoryParser still", got)
	}

	e.recordWorstCategory(&types.AuthenticationError{URL: "x", Err: types.ErrInvalidURL})
	if got := e.ExitCategory(); got != types.CategoryAuth {
		t.Fatalf("ExitCategory = %v, want CategoryAuth", got)
	}
}

func TestStatsSnapshot(t *testing.T) {
	s := &Stats{}
	s.RequestsSent.Add(3)
	s.ResponsesOK.Add(2)

	snap := s.Snapshot()
	if snap["requests_sent"].(int64) != 3 {
		t.Errorf("requests_sent = %v, want 3", snap["requests_sent"])
	}
	if snap["responses_ok"].(int64) != 2 {
		t.Errorf("responses_ok = %v, want 2", snap["responses_ok"])
	}
}
