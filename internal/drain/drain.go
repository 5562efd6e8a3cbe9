// Package drain empties a remote, externally mutating alias list one item at
// a time: query, act on the head, re-query, until nothing is left or a step
// fails.
package drain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hme-tools/hme/internal/alias"
	"github.com/hme-tools/hme/internal/progress"
)

var (
	// ErrStale means the row the caller asked about no longer resolves to the
	// same alias. The loop re-queries instead of failing.
	ErrStale = errors.New("item no longer resolves")

	// ErrActionTimeout means a control expected after a click never appeared.
	ErrActionTimeout = errors.New("expected control did not appear")

	// ErrTooManyStale aborts a loop that keeps observing stale rows.
	ErrTooManyStale = errors.New("too many consecutive stale items")
)

// Page is the list surface the loop drives.
type Page interface {
	// ApplyFilter narrows section to rows matching term.
	ApplyFilter(ctx context.Context, section alias.Section, term string) error
	// Query returns the current state of section.
	Query(ctx context.Context, section alias.Section) (alias.Listing, error)
	// Act performs action on the first row of section, which must still be
	// item. It returns ErrStale when it is not, and ErrActionTimeout when the
	// page never offered the expected control.
	Act(ctx context.Context, section alias.Section, item alias.Item, action alias.Action) error
}

// State is a drain loop state.
type State int

const (
	Querying State = iota
	Acting
	Advancing
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Querying:
		return "querying"
	case Acting:
		return "acting"
	case Advancing:
		return "advancing"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Result is what a finished loop reports.
type Result struct {
	Action    alias.Action
	Filter    string
	Processed int
	Initial   int
	State     State // Done or Aborted
	Err       error
	Elapsed   time.Duration
}

// Aborted reports whether the loop stopped on an error.
func (r Result) Aborted() bool { return r.State == Aborted }

// Options tune a Processor.
type Options struct {
	ProcessDelay    time.Duration // pause after each successful action
	MaxStaleRetries int           // consecutive stale results tolerated; <= 0 means 10
	Clock           progress.Clock
	Sleep           func(context.Context, time.Duration)
	Logger          *zap.Logger
}

// Processor runs drain loops against a Page.
type Processor struct {
	page     Page
	observer Observer
	opts     Options
	log      *zap.Logger
}

const defaultMaxStaleRetries = 10

// New creates a Processor. A nil observer discards events.
func New(page Page, observer Observer, opts Options) *Processor {
	if observer == nil {
		observer = NopObserver{}
	}
	if opts.MaxStaleRetries <= 0 {
		opts.MaxStaleRetries = defaultMaxStaleRetries
	}
	if opts.Clock == nil {
		opts.Clock = progress.SystemClock()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{page: page, observer: observer, opts: opts, log: log}
}

// Drain repeatedly acts on the first item of action.Section under filter
// until the section is empty or a step fails.
func (p *Processor) Drain(ctx context.Context, action alias.Action, filter string) Result {
	section := action.Section
	tracker := progress.NewTracker(p.opts.Clock)
	res := Result{Action: action, Filter: filter}
	log := p.log.With(zap.String("action", action.Verb), zap.String("section", string(section)), zap.String("filter", filter))

	p.observer.Started(action, filter)

	finish := func(state State, err error) Result {
		res.State = state
		res.Err = err
		res.Elapsed = tracker.Elapsed()
		if err != nil {
			log.Warn("drain aborted", zap.Int("processed", res.Processed), zap.Error(err))
		} else {
			log.Info("drain finished", zap.Int("processed", res.Processed))
		}
		p.observer.Finished(res)
		return res
	}

	if filter != "" {
		if err := p.page.ApplyFilter(ctx, section, filter); err != nil {
			return finish(Aborted, fmt.Errorf("apply filter: %w", err))
		}
	}

	var (
		state   = Querying
		listing alias.Listing
		queried bool
		stale   int
	)

	for {
		switch state {
		case Querying:
			if err := ctx.Err(); err != nil {
				return finish(Aborted, err)
			}
			l, err := p.page.Query(ctx, section)
			if err != nil {
				return finish(Aborted, fmt.Errorf("query %s: %w", section, err))
			}
			listing = l
			if !queried {
				queried = true
				res.Initial = l.Relevant
				tracker.SetTotal(l.Relevant)
			}
			p.observer.Remaining(action, filter, l, tracker.Snapshot(res.Processed))
			if l.Empty() {
				return finish(Done, nil)
			}
			state = Acting

		case Acting:
			head := listing.Items[0]
			// The action runs to completion even if ctx is cancelled meanwhile,
			// so the remote view is never left mid-mutation.
			err := p.page.Act(context.WithoutCancel(ctx), section, head, action)
			switch {
			case err == nil:
				stale = 0
				res.Processed++
				log.Debug("item processed", zap.String("address", head.Address), zap.Int("processed", res.Processed))
				p.observer.Processed(action, head, tracker.Snapshot(res.Processed))
				state = Advancing
			case errors.Is(err, ErrStale):
				stale++
				log.Debug("stale item, re-querying", zap.String("address", head.Address), zap.Int("retries", stale))
				p.observer.Stale(action, head)
				if stale > p.opts.MaxStaleRetries {
					return finish(Aborted, fmt.Errorf("%w (%d)", ErrTooManyStale, stale))
				}
				state = Querying
			default:
				return finish(Aborted, fmt.Errorf("%s %s: %w", action.Verb, head.Address, err))
			}

		case Advancing:
			p.opts.Sleep(ctx, p.opts.ProcessDelay)
			if filter != "" {
				if err := p.page.ApplyFilter(ctx, section, filter); err != nil {
					return finish(Aborted, fmt.Errorf("reapply filter: %w", err))
				}
			}
			state = Querying

		default:
			return finish(Aborted, fmt.Errorf("unexpected state %s", state))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
