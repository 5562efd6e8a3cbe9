package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/hme-tools/hme/internal/alias"
	"github.com/hme-tools/hme/internal/config"
	"github.com/hme-tools/hme/internal/drain"
)

const pollInterval = 250 * time.Millisecond

// HideMyEmail is the list page inside the Hide My Email frame. It is bound
// to a frame by Session and rebound after every reset.
type HideMyEmail struct {
	sel    config.Selectors
	timing config.Timing
	log    *zap.Logger

	ctx  context.Context // tab or frame target
	root string          // JS expression of the list document
}

var _ drain.Page = (*HideMyEmail)(nil)

func newHideMyEmail(sel config.Selectors, timing config.Timing, log *zap.Logger) *HideMyEmail {
	return &HideMyEmail{sel: sel, timing: timing, log: log}
}

func (h *HideMyEmail) bind(ctx context.Context, root string) {
	h.ctx, h.root = ctx, root
}

func (h *HideMyEmail) bound() error {
	if h.ctx == nil {
		return errors.New("hide my email is not open")
	}
	return nil
}

// run executes actions on the bound document under timeout. It stops early
// when ctx is cancelled.
func (h *HideMyEmail) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := h.bound(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(h.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// poll waits until expression is truthy.
func (h *HideMyEmail) poll(ctx context.Context, timeout time.Duration, expression string, res interface{}) error {
	err := h.run(ctx, timeout+time.Second,
		chromedp.Poll(expression, res,
			chromedp.WithPollingInterval(pollInterval),
			chromedp.WithPollingTimeout(timeout)))
	if errors.Is(err, chromedp.ErrPollingTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", drain.ErrActionTimeout, timeout)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) {
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

// ApplyFilter opens the search field of section and types term into it.
func (h *HideMyEmail) ApplyFilter(ctx context.Context, section alias.Section, term string) error {
	if term == "" {
		return nil
	}
	s := h.sel.Section(string(section))
	wait := h.timing.Wait()
	h.log.Debug("applying filter", zap.String("section", string(section)), zap.String("filter", term))

	// The field stays open after a search that did not mutate the list.
	var open bool
	if err := h.run(ctx, wait, chromedp.Evaluate(focusXPath(h.root, s.SearchInput), &open)); err != nil {
		return fmt.Errorf("failed to check search field: %w", err)
	}
	if !open {
		if err := h.poll(ctx, wait, clickXPath(h.root, s.SearchButton), nil); err != nil {
			return fmt.Errorf("search button: %w", err)
		}
		if err := h.poll(ctx, wait, focusXPath(h.root, s.SearchInput), nil); err != nil {
			return fmt.Errorf("search field: %w", err)
		}
	}

	// InsertText replaces the selected previous term.
	if err := h.run(ctx, wait, input.InsertText(term)); err != nil {
		return fmt.Errorf("failed to type search term: %w", err)
	}
	sleep(ctx, h.timing.SearchDelay())
	return nil
}

type sectionSnapshot struct {
	Header string `json:"header"`
	HTML   string `json:"html"`
}

// Query reads the header total and the visible rows of section.
func (h *HideMyEmail) Query(ctx context.Context, section alias.Section) (alias.Listing, error) {
	s := h.sel.Section(string(section))
	var snap sectionSnapshot
	if err := h.poll(ctx, h.timing.Query(), querySection(h.root, s.Header, s.Container, s.Index), &snap); err != nil {
		return alias.Listing{}, fmt.Errorf("%s section header: %w", section, err)
	}

	total, err := ParseTotal(snap.Header)
	if err != nil {
		return alias.Listing{}, err
	}
	items, err := ParseSection(snap.HTML, h.sel)
	if err != nil {
		return alias.Listing{}, err
	}
	return alias.Listing{Total: total, Relevant: len(items), Items: items}, nil
}

// Act expands the first row of section, clicks the action button and
// confirms the dialog. It returns drain.ErrStale when the first row is no
// longer item and drain.ErrActionTimeout when a control never shows up.
func (h *HideMyEmail) Act(ctx context.Context, section alias.Section, item alias.Item, action alias.Action) error {
	s := h.sel.Section(string(section))
	log := h.log.With(zap.String("action", action.Verb), zap.String("address", item.Address))

	var status string
	script := expandHead(h.root, s.Container, s.Index, h.sel.Item, h.sel.Address, h.sel.ExpandButton, item.Address)
	if err := h.run(ctx, h.timing.Wait(), chromedp.Evaluate(script, &status)); err != nil {
		return fmt.Errorf("failed to expand row: %w", err)
	}
	switch status {
	case headStale:
		return drain.ErrStale
	case headNoExpand:
		return fmt.Errorf("no expand control on row: %w", drain.ErrActionTimeout)
	}
	sleep(ctx, h.timing.ExpandDelay())

	if err := h.poll(ctx, h.timing.Action(), clickButtonWithText(h.root, action.ButtonText), nil); err != nil {
		return fmt.Errorf("no '%s' button: %w", action.ButtonText, err)
	}
	sleep(ctx, time.Second)

	if err := h.poll(ctx, h.timing.Action(), clickConfirm(h.root, action.ConfirmText), nil); err != nil {
		return fmt.Errorf("no '%s' confirmation: %w", action.ConfirmText, err)
	}
	if err := h.poll(ctx, h.timing.Confirm(), confirmGone(h.root, action.ConfirmText), nil); err != nil {
		return fmt.Errorf("confirmation dialog did not close: %w", err)
	}
	log.Debug("action confirmed")
	return nil
}
