package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hme-tools/hme/internal/alias"
	"github.com/hme-tools/hme/internal/drain"
	"github.com/hme-tools/hme/internal/history"
	"github.com/hme-tools/hme/internal/prompt"
)

// scripted answers questions from a fixed list and records what was asked.
type scripted struct {
	answers   []string
	questions []string
}

func (s *scripted) next(q string) (string, error) {
	s.questions = append(s.questions, q)
	if len(s.answers) == 0 {
		return "", prompt.ErrAborted
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func (s *scripted) Choose(q string, _ []string) (string, error) { return s.next(q) }
func (s *scripted) Text(q string) (string, error)               { return s.next(q) }
func (s *scripted) RequiredText(q, _ string) (string, error)     { return s.next(q) }

func (s *scripted) Confirm(q string) (bool, error) {
	a, err := s.next(q)
	return a == "yes" || a == "y", err
}

func (s *scripted) asked(substr string) int {
	n := 0
	for _, q := range s.questions {
		if strings.Contains(q, substr) {
			n++
		}
	}
	return n
}

// fakePage keeps both sections in memory. Deactivated aliases move to the
// inactive section and every mutation clears the search.
type fakePage struct {
	sections map[alias.Section][]alias.Item
	filters  map[alias.Section]string
	acts     int
	actErr   error
	onAct    func(n int) // called with the 1-based act count before acting
}

func newFakePage(active, inactive []alias.Item) *fakePage {
	return &fakePage{
		sections: map[alias.Section][]alias.Item{
			alias.Active:   append([]alias.Item(nil), active...),
			alias.Inactive: append([]alias.Item(nil), inactive...),
		},
		filters: map[alias.Section]string{},
	}
}

func (f *fakePage) visible(section alias.Section) []alias.Item {
	var out []alias.Item
	for _, it := range f.sections[section] {
		term := f.filters[section]
		if term == "" || strings.Contains(it.Address, term) || strings.Contains(it.Label, term) {
			out = append(out, it)
		}
	}
	return out
}

func (f *fakePage) ApplyFilter(_ context.Context, section alias.Section, term string) error {
	f.filters[section] = term
	return nil
}

func (f *fakePage) Query(_ context.Context, section alias.Section) (alias.Listing, error) {
	items := f.visible(section)
	return alias.Listing{Total: len(f.sections[section]), Relevant: len(items), Items: items}, nil
}

func (f *fakePage) Act(_ context.Context, section alias.Section, item alias.Item, action alias.Action) error {
	f.acts++
	if f.onAct != nil {
		f.onAct(f.acts)
	}
	if f.actErr != nil {
		return f.actErr
	}
	list := f.sections[section]
	for i, it := range list {
		if it == item {
			f.sections[section] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if action.Kind == alias.KindDeactivate {
		f.sections[alias.Inactive] = append(f.sections[alias.Inactive], item)
	}
	f.filters[section] = ""
	return nil
}

type fakeHistory struct {
	ops     []*history.Operation
	aliases map[string][]string
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{aliases: map[string][]string{}}
}

func (h *fakeHistory) StartOperation(mode alias.Mode, filter string) (*history.Operation, error) {
	op := &history.Operation{
		ID:        fmt.Sprintf("op-%d", len(h.ops)+1),
		Mode:      mode.String(),
		Filter:    filter,
		Outcome:   history.OutcomeRunning,
		StartedAt: time.Now(),
	}
	h.ops = append(h.ops, op)
	return op, nil
}

func (h *fakeHistory) RecordAlias(opID string, action alias.Action, item alias.Item) error {
	h.aliases[opID] = append(h.aliases[opID], action.Verb+" "+item.Address)
	return nil
}

func (h *fakeHistory) FinishOperation(*history.Operation) error { return nil }

type resetCounter struct{ n int }

func (r *resetCounter) Reset(context.Context) error {
	r.n++
	return nil
}

func addresses(prefix string, n int) []alias.Item {
	out := make([]alias.Item, n)
	for i := range out {
		out[i] = alias.Item{Address: fmt.Sprintf("%s.%d@icloud.com", prefix, i), Label: "Label " + prefix}
	}
	return out
}

func newTestConsole(page *fakePage, ask *scripted, hist *fakeHistory) (*Console, *bytes.Buffer) {
	var out bytes.Buffer
	opts := Options{
		Drain: drain.Options{Sleep: func(context.Context, time.Duration) {}},
	}
	if hist != nil {
		opts.History = hist
	}
	return New(page, ask, &out, opts), &out
}

func TestPurgeWithFilter(t *testing.T) {
	active := append(addresses("shop", 2), addresses("bank", 3)...)
	inactive := append(addresses("oldshop", 5), addresses("news", 2)...)
	page := newFakePage(active, inactive)
	ask := &scripted{answers: []string{"yes", "shop", "yes", "yes"}}
	hist := newFakeHistory()
	c, out := newTestConsole(page, ask, hist)

	res, err := c.purge(context.Background())
	if err != nil {
		t.Fatalf("purge() error: %v", err)
	}

	if res.Deactivated.Processed != 2 || res.Deleted.Processed != 7 {
		t.Errorf("deactivated %d, deleted %d; want 2, 7", res.Deactivated.Processed, res.Deleted.Processed)
	}
	if n := ask.asked("PURGE 7 emails"); n != 1 {
		t.Errorf("final purge confirmation asked %d times, want 1", n)
	}
	if len(ask.answers) != 0 {
		t.Errorf("unused answers: %v", ask.answers)
	}
	if got := len(page.sections[alias.Active]); got != 3 {
		t.Errorf("active aliases left = %d, want 3", got)
	}
	if diff := cmp.Diff(addresses("news", 2), page.sections[alias.Inactive]); diff != "" {
		t.Errorf("inactive aliases left (-want +got):\n%s", diff)
	}

	for _, want := range []string{
		"Total emails to be purged: 7",
		"Proceeding to deletion phase of purge...",
		"Emails deactivated: 2",
		"Emails deleted: 7",
		"Total emails purged for 'shop': 7",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q", want)
		}
	}

	if len(hist.ops) != 1 {
		t.Fatalf("recorded %d operations, want 1", len(hist.ops))
	}
	op := hist.ops[0]
	if op.Outcome != history.OutcomeCompleted || op.Deactivated != 2 || op.Deleted != 7 {
		t.Errorf("recorded operation = %+v", op)
	}
	if got := len(hist.aliases[op.ID]); got != 9 {
		t.Errorf("recorded %d aliases, want 9", got)
	}
}

func TestPurgeDeclined(t *testing.T) {
	page := newFakePage(addresses("shop", 2), addresses("shop", 5))
	ask := &scripted{answers: []string{"yes", "shop", "no"}}
	hist := newFakeHistory()
	c, out := newTestConsole(page, ask, hist)

	res, err := c.purge(context.Background())
	if err != nil {
		t.Fatalf("purge() error: %v", err)
	}
	if res.Deactivated.Processed != 0 || res.Deleted.Processed != 0 {
		t.Errorf("result = %+v, want zero counts", res)
	}
	if page.acts != 0 {
		t.Errorf("page acted %d times after decline", page.acts)
	}
	if !strings.Contains(out.String(), "Operation cancelled") {
		t.Errorf("missing cancellation line:\n%s", out.String())
	}
	if len(hist.ops) != 1 || hist.ops[0].Outcome != history.OutcomeCancelled {
		t.Errorf("history = %+v, want one cancelled operation", hist.ops)
	}
}

func TestDeactivateAll(t *testing.T) {
	page := newFakePage(addresses("a", 3), nil)
	ask := &scripted{answers: []string{"no", "yes"}}
	c, out := newTestConsole(page, ask, nil)

	res, err := c.single(context.Background(), alias.ModeDeactivate, alias.Deactivate)
	if err != nil {
		t.Fatalf("single() error: %v", err)
	}
	if res.Processed != 3 || res.Aborted() {
		t.Errorf("result = %+v", res)
	}
	for _, want := range []string{
		"No search filter will be applied",
		"✅ Successfully deactivated email #3",
		"No active emails remaining.",
		"Deactivate complete!",
		"Total deactivated: 3",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestDeleteAbortsOnTimeout(t *testing.T) {
	page := newFakePage(nil, append(addresses("x", 2), addresses("keep", 1)...))
	page.actErr = drain.ErrActionTimeout
	// filter, term, acknowledge, proceed
	ask := &scripted{answers: []string{"yes", "x", "yes", "yes"}}
	hist := newFakeHistory()
	c, out := newTestConsole(page, ask, hist)

	res, err := c.single(context.Background(), alias.ModeDelete, alias.Delete)
	if err != nil {
		t.Fatalf("single() error: %v", err)
	}
	if !res.Aborted() || !errors.Is(res.Err, drain.ErrActionTimeout) {
		t.Errorf("result = %+v, want aborted on timeout", res)
	}
	if !strings.Contains(out.String(), "Stopping to prevent processing wrong emails.") {
		t.Errorf("missing abort explanation:\n%s", out.String())
	}
	if op := hist.ops[0]; op.Outcome != history.OutcomeAborted || op.Error == "" {
		t.Errorf("recorded operation = %+v", op)
	}
}

func TestDeleteFilterMatchingAllAsksWholeCollection(t *testing.T) {
	page := newFakePage(nil, addresses("old", 3))
	// filter, term, whole collection, acknowledge, proceed
	ask := &scripted{answers: []string{"yes", "icloud", "yes", "yes", "yes"}}
	c, _ := newTestConsole(page, ask, nil)

	res, err := c.single(context.Background(), alias.ModeDelete, alias.Delete)
	if err != nil {
		t.Fatalf("single() error: %v", err)
	}
	if n := ask.asked("ABSOLUTELY SURE"); n != 1 {
		t.Errorf("whole collection question asked %d times, want 1: %q", n, ask.questions)
	}
	if res.Processed != 3 {
		t.Errorf("processed %d, want 3", res.Processed)
	}
}

func TestDeactivateInterrupted(t *testing.T) {
	tests := []struct {
		name     string
		cancelAt int
		want     int
	}{
		// An act already started runs to completion, so it is counted.
		{"during first act", 1, 1},
		{"during second act", 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			page := newFakePage(addresses("a", 3), nil)
			page.onAct = func(n int) {
				if n == tt.cancelAt {
					cancel()
				}
			}
			ask := &scripted{answers: []string{"no", "yes"}}
			hist := newFakeHistory()
			c, out := newTestConsole(page, ask, hist)

			res, err := c.single(ctx, alias.ModeDeactivate, alias.Deactivate)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("single() error = %v, want context.Canceled", err)
			}
			if res.Processed != tt.want || !res.Aborted() {
				t.Errorf("result = %+v, want aborted after %d", res, tt.want)
			}
			if page.acts != tt.want {
				t.Errorf("acts = %d, want %d", page.acts, tt.want)
			}
			text := out.String()
			for _, want := range []string{
				"⚠️  Operation interrupted.",
				"Deactivate stopped early.",
				fmt.Sprintf("Total deactivated: %d", tt.want),
			} {
				if !strings.Contains(text, want) {
					t.Errorf("output missing %q:\n%s", want, text)
				}
			}
			if strings.Contains(text, "Deactivate complete!") {
				t.Errorf("interrupted run reported completion:\n%s", text)
			}
			if op := hist.ops[0]; op.Outcome != history.OutcomeAborted || op.Deactivated != tt.want {
				t.Errorf("recorded operation = %+v", op)
			}
		})
	}
}

// stepClock advances by step on every reading.
type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func TestRateLineEveryInterval(t *testing.T) {
	page := newFakePage(addresses("a", 5), nil)
	ask := &scripted{answers: []string{"no", "yes"}}
	var out bytes.Buffer
	c := New(page, ask, &out, Options{
		Drain: drain.Options{
			Sleep: func(context.Context, time.Duration) {},
			Clock: &stepClock{now: time.Unix(0, 0), step: 10 * time.Second},
		},
		RateInterval: 2,
	})

	if _, err := c.single(context.Background(), alias.ModeDeactivate, alias.Deactivate); err != nil {
		t.Fatalf("single() error: %v", err)
	}
	var rates []string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "   📊 Rate: ") {
			rates = append(rates, line)
		}
	}
	if len(rates) != 2 {
		t.Fatalf("rate lines = %q, want 2 (after #2 and #4)", rates)
	}
	for _, line := range rates {
		if !strings.HasSuffix(line, "emails/minute") {
			t.Errorf("rate line %q has no rate", line)
		}
	}
	if i, j := strings.Index(out.String(), "email #2"), strings.Index(out.String(), rates[0]); i < 0 || j < i {
		t.Errorf("first rate line not printed after email #2:\n%s", out.String())
	}
}

func TestEmptySectionNeverAsksToProceed(t *testing.T) {
	page := newFakePage(nil, nil)
	ask := &scripted{answers: []string{"no"}}
	hist := newFakeHistory()
	c, out := newTestConsole(page, ask, hist)

	if _, err := c.single(context.Background(), alias.ModeDelete, alias.Delete); err != nil {
		t.Fatal(err)
	}
	if ask.asked("proceed") != 0 {
		t.Error("asked to proceed with nothing to do")
	}
	if !strings.Contains(out.String(), "No inactive emails found.") {
		t.Errorf("output:\n%s", out.String())
	}
	if len(hist.ops) != 0 {
		t.Errorf("recorded %d operations for an empty section", len(hist.ops))
	}
}

func TestPreview(t *testing.T) {
	page := newFakePage(addresses("svc", 25), addresses("old", 3))
	ask := &scripted{answers: []string{"3", "no", "1"}}
	c, out := newTestConsole(page, ask, nil)

	if err := c.preview(context.Background()); err != nil {
		t.Fatalf("preview() error: %v", err)
	}
	if page.acts != 0 {
		t.Errorf("preview acted %d times", page.acts)
	}
	for _, want := range []string{
		"Displaying 20 of 25 emails:",
		"Summary by service:",
		"Displaying 3 of 3 emails:",
		"Preview complete. No changes were made.",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestDisplayCount(t *testing.T) {
	tests := []struct {
		total  int
		choice string
		want   int
	}{
		{total: 15, want: 15},
		{total: 30, choice: "1", want: 20},
		{total: 30, choice: "2", want: 30},
		{total: 60, choice: "2", want: 50},
		{total: 60, choice: "3", want: 60},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%s", tt.total, tt.choice), func(t *testing.T) {
			ask := &scripted{}
			if tt.choice != "" {
				ask.answers = []string{tt.choice}
			}
			c, _ := newTestConsole(newFakePage(nil, nil), ask, nil)
			got, err := c.displayCount(tt.total)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("displayCount(%d) = %d, want %d", tt.total, got, tt.want)
			}
		})
	}
}

func TestRunLoop(t *testing.T) {
	page := newFakePage(addresses("a", 1), nil)
	// deactivate everything, continue, exit
	ask := &scripted{answers: []string{"1", "no", "yes", "yes", "5"}}
	resets := &resetCounter{}
	var out bytes.Buffer
	c := New(page, ask, &out, Options{
		Drain: drain.Options{Sleep: func(context.Context, time.Duration) {}},
		Reset: resets,
	})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if page.acts != 1 {
		t.Errorf("acts = %d, want 1", page.acts)
	}
	if resets.n != 1 {
		t.Errorf("resets = %d, want 1", resets.n)
	}
	if !strings.Contains(out.String(), "Exiting...") {
		t.Errorf("output missing exit line")
	}
}

func TestRunStopsWhenPromptAborted(t *testing.T) {
	c, _ := newTestConsole(newFakePage(nil, nil), &scripted{}, nil)
	if err := c.Run(context.Background()); !errors.Is(err, prompt.ErrAborted) {
		t.Errorf("Run() error = %v, want ErrAborted", err)
	}
}

func TestRunStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ask := &scripted{answers: []string{"5"}}
	c, _ := newTestConsole(newFakePage(nil, nil), ask, nil)
	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if len(ask.questions) != 0 {
		t.Errorf("asked %v after cancellation", ask.questions)
	}
}
