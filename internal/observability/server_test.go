package observability

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/mirrorctl/mirrorctl/internal/engine"
	"github.com/mirrorctl/mirrorctl/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngine struct {
	state        engine.State
	stats        *engine.Stats
	exitCategory types.Category
	paused       bool
	resumed      bool
	stopped      bool
}

func (f *fakeEngine) State() engine.State          { return f.state }
func (f *fakeEngine) Stats() *engine.Stats         { return f.stats }
func (f *fakeEngine) ExitCategory() types.Category { return f.exitCategory }
func (f *fakeEngine) Pause()                       { f.paused = true }
func (f *fakeEngine) Resume()                      { f.resumed = true }
func (f *fakeEngine) Stop()                        { f.stopped = true }

func TestStatusServerHealth(t *testing.T) {
	s := NewStatusServer(&fakeEngine{stats: &engine.Stats{}}, discardLogger())

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatusServerStatus(t *testing.T) {
	fe := &fakeEngine{state: engine.StateRunning, stats: &engine.Stats{}, exitCategory: types.CategoryNetwork}
	s := NewStatusServer(fe, discardLogger())

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["state"] != "running" {
		t.Errorf("state = %v, want running", body["state"])
	}
	if int(body["exit_category"].(float64)) != int(types.CategoryNetwork) {
		t.Errorf("exit_category = %v, want %d", body["exit_category"], types.CategoryNetwork)
	}
}

func TestStatusServerControls(t *testing.T) {
	fe := &fakeEngine{stats: &engine.Stats{}}
	s := NewStatusServer(fe, discardLogger())

	for _, path := range []string{"/pause", "/resume", "/stop"} {
		req := httptest.NewRequest("POST", path, nil)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		if rec.Code != 200 {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
	}
	if !fe.paused || !fe.resumed || !fe.stopped {
		t.Error("expected pause/resume/stop all to have been called")
	}
}
