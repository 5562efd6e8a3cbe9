package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hme-tools/hme/internal/history"
)

type fakeStore struct {
	ops     []history.Operation
	aliases map[string][]history.ProcessedAlias
	cleared bool
}

func (f *fakeStore) RecentOperations(limit int) ([]history.Operation, error) {
	if limit < len(f.ops) {
		return f.ops[:limit], nil
	}
	return f.ops, nil
}

func (f *fakeStore) Operation(id string) (*history.Operation, error) {
	for _, op := range f.ops {
		if op.ID == id {
			return &op, nil
		}
	}
	return nil, history.ErrNotFound
}

func (f *fakeStore) Aliases(opID string) ([]history.ProcessedAlias, error) {
	return f.aliases[opID], nil
}

func (f *fakeStore) Stats() (history.Stats, error) {
	var st history.Stats
	for _, op := range f.ops {
		st.Operations++
		st.Deactivated += op.Deactivated
		st.Deleted += op.Deleted
	}
	return st, nil
}

func (f *fakeStore) Clear() error {
	f.cleared = true
	f.ops = nil
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeStore) {
	t.Helper()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		ops: []history.Operation{
			{ID: "11111111-aaaa", Mode: "purge", Filter: "shop", Outcome: history.OutcomeCompleted,
				Deactivated: 2, Deleted: 7, StartedAt: start, FinishedAt: start.Add(time.Minute)},
			{ID: "22222222-bbbb", Mode: "deactivate", Outcome: history.OutcomeAborted,
				Deactivated: 1, Error: "expected control did not appear", StartedAt: start},
		},
		aliases: map[string][]history.ProcessedAlias{
			"11111111-aaaa": {{ID: 1, OperationID: "11111111-aaaa", Action: "deactivate", Address: "dull.fox@icloud.com", Label: "Shopping"}},
		},
	}
	s, err := NewServer(8080, store, nil)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	return s, store
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestDashboard(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s.Handler(), "/")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body:\n%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{"/operations/11111111-aaaa", "purge", "shop", "aborted", "gorilla.csrf.Token"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestOperationPage(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := get(t, h, "/operations/11111111-aaaa")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dull.fox@icloud.com") {
		t.Errorf("operation page missing alias:\n%s", rec.Body.String())
	}

	if rec := get(t, h, "/operations/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("missing operation status = %d, want 404", rec.Code)
	}
}

func TestAPIOperations(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := get(t, h, "/api/operations?limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var ops []history.Operation
	if err := json.NewDecoder(rec.Body).Decode(&ops); err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].ID != "11111111-aaaa" {
		t.Errorf("ops = %+v", ops)
	}

	if rec := get(t, h, "/api/operations?limit=zero"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestClearRequiresCSRFToken(t *testing.T) {
	s, store := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/history/clear", nil))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if store.cleared {
		t.Error("history cleared without a token")
	}
}

func TestHandleClearHistory(t *testing.T) {
	s, store := newTestServer(t)
	rec := httptest.NewRecorder()
	s.handleClearHistory(rec, httptest.NewRequest(http.MethodPost, "/history/clear", nil))

	if rec.Code != http.StatusSeeOther || !store.cleared {
		t.Errorf("status = %d, cleared = %v", rec.Code, store.cleared)
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Error("third request within the window should be rejected")
	}
	if !rl.Allow("b") {
		t.Error("other keys are limited separately")
	}

	now = now.Add(2 * time.Minute)
	if !rl.Allow("a") {
		t.Error("request after the window should pass")
	}
}
