package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hme-tools/hme/internal/alias"
	"github.com/hme-tools/hme/internal/drain"
	"github.com/hme-tools/hme/internal/gate"
	"github.com/hme-tools/hme/internal/history"
	"github.com/hme-tools/hme/internal/ui"
)

// single runs a deactivate or delete operation: filter prompt, preview and
// approval, then one drain loop.
func (c *Console) single(ctx context.Context, mode alias.Mode, action alias.Action) (drain.Result, error) {
	filter, err := c.askFilter()
	if err != nil {
		return drain.Result{}, err
	}

	l, err := c.listing(ctx, action.Section, filter)
	if err != nil {
		return drain.Result{}, err
	}

	ok, err := c.gate.Approve(gate.Request{Action: action, Filter: filter, Items: l.Items, Total: l.Total})
	if err != nil {
		return drain.Result{}, err
	}
	if !ok {
		if len(l.Items) > 0 {
			c.record(mode, filter, history.OutcomeCancelled)
		}
		return drain.Result{Action: action, Filter: filter}, nil
	}

	op := c.begin(mode, filter)
	res := c.processor(op, false).Drain(ctx, action, filter)
	c.finish(op, res)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// purge previews both sections, asks once for the whole chain, then
// deactivates and deletes everything matching the filter.
func (c *Console) purge(ctx context.Context) (drain.PurgeResult, error) {
	ui.Header(c.out, "⚠️  PURGE MODE WARNING ⚠️")
	fmt.Fprintln(c.out, "Purge mode will:")
	fmt.Fprintln(c.out, "1. Deactivate active emails")
	fmt.Fprintln(c.out, "2. Then permanently DELETE those emails")
	fmt.Fprintln(c.out, "This action cannot be undone!")
	ui.Rule(c.out)

	filter, err := c.askFilter()
	if err != nil {
		return drain.PurgeResult{}, err
	}

	active, err := c.listing(ctx, alias.Active, filter)
	if err != nil {
		return drain.PurgeResult{}, err
	}
	inactive, err := c.listing(ctx, alias.Inactive, filter)
	if err != nil {
		return drain.PurgeResult{}, err
	}

	ok, err := c.gate.ApprovePurge(gate.PurgeRequest{
		Filter:        filter,
		Active:        active.Items,
		Inactive:      inactive.Items,
		ActiveTotal:   active.Total,
		InactiveTotal: inactive.Total,
	})
	if err != nil {
		return drain.PurgeResult{}, err
	}
	if !ok {
		if len(active.Items)+len(inactive.Items) > 0 {
			c.record(alias.ModePurge, filter, history.OutcomeCancelled)
		}
		return drain.PurgeResult{}, nil
	}

	op := c.begin(alias.ModePurge, filter)
	res := c.processor(op, true).Purge(ctx, filter)
	c.purgeSummary(res, filter)
	c.finishPurge(op, res)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (c *Console) purgeSummary(res drain.PurgeResult, filter string) {
	deactivated, deleted := res.Deactivated.Processed, res.Deleted.Processed
	title := "🗑️  PURGE COMPLETE!"
	if res.Aborted() {
		title = "⚠️  PURGE STOPPED EARLY"
	}
	ui.Header(c.out, title)
	fmt.Fprintf(c.out, "Emails deactivated: %d\n", deactivated)
	fmt.Fprintf(c.out, "Emails deleted: %d\n", deleted)
	if filter != "" {
		fmt.Fprintf(c.out, "Total emails purged for '%s': %d\n", filter, deleted)
		if deactivated == 0 && deleted > 0 {
			fmt.Fprintln(c.out, "Note: No active emails were found, but inactive emails were deleted.")
		}
	} else {
		fmt.Fprintf(c.out, "Total emails purged: %d\n", deleted)
	}
	ui.Rule(c.out)
}

func (c *Console) processor(op *history.Operation, purge bool) *drain.Processor {
	observers := drain.Observers{newReporter(c.out, c.opts.RateInterval, c.opts.Headless, purge)}
	if op != nil {
		observers = append(observers, &recorder{store: c.opts.History, opID: op.ID, log: c.log})
	}
	return drain.New(c.page, observers, c.opts.Drain)
}

var displayLimits = []int{20, 50}

// preview lists emails without changing anything.
func (c *Console) preview(ctx context.Context) error {
	ui.Header(c.out, "📋 PREVIEW MODE")
	fmt.Fprintln(c.out, "This mode shows emails without making any changes.")
	ui.Rule(c.out)
	fmt.Fprintln(c.out)

	choice, err := c.ask.Choose("Which emails would you like to preview?\n"+
		"1. Active emails\n"+
		"2. Inactive emails\n"+
		"3. Both\n"+
		"Enter choice (1, 2, or 3): ", []string{"1", "2", "3"})
	if err != nil {
		return err
	}

	use, err := c.ask.Confirm("Do you want to filter by a search term? (yes/no): ")
	if err != nil {
		return err
	}
	var term string
	if use {
		if term, err = c.ask.Text("Enter search term: "); err != nil {
			return err
		}
	}

	if choice == "1" || choice == "3" {
		if err := c.previewSection(ctx, alias.Active, term); err != nil {
			return err
		}
	}
	if choice == "2" || choice == "3" {
		if err := c.previewSection(ctx, alias.Inactive, term); err != nil {
			return err
		}
	}

	ui.Header(c.out, "Preview complete. No changes were made.")
	return nil
}

func (c *Console) previewSection(ctx context.Context, section alias.Section, term string) error {
	ui.Header(c.out, fmt.Sprintf("📧 %s EMAILS", strings.ToUpper(string(section))))
	if term != "" {
		fmt.Fprintf(c.out, "Applying filter: '%s'...\n", term)
	}

	l, err := c.listing(ctx, section, term)
	if err != nil {
		return err
	}
	if term != "" {
		fmt.Fprintf(c.out, "\nFound %d %s emails matching '%s' (Total %s: %d)\n", l.Relevant, section, term, section, l.Total)
	} else {
		fmt.Fprintf(c.out, "\nTotal %s emails: %d\n", section, l.Relevant)
	}
	if l.Empty() {
		fmt.Fprintf(c.out, "No %s emails found.\n", section)
		return nil
	}

	total := len(l.Items)
	n, err := c.displayCount(total)
	if err != nil {
		return err
	}
	shown := l.Items[:n]

	fmt.Fprintf(c.out, "\nDisplaying %d of %d emails:\n", n, total)
	ui.Line(c.out, ui.DetailWidth)
	for i, it := range shown {
		fmt.Fprintf(c.out, "%3d. %s\n", i+1, it.DisplayName())
	}
	ui.Line(c.out, ui.DetailWidth)
	fmt.Fprintf(c.out, "Displayed %d of %d emails\n", n, total)

	if n >= 10 {
		gate.PrintSummary(c.out, alias.Summarize(shown, c.summaryLimit()))
	}
	return nil
}

// displayCount asks how many of total rows to list when there are more
// than the smallest display limit.
func (c *Console) displayCount(total int) (int, error) {
	if total <= displayLimits[0] {
		return total, nil
	}

	fmt.Fprintf(c.out, "\nFound %d emails. How many would you like to see?\n", total)
	var options []string
	for i, limit := range displayLimits {
		if total > limit {
			options = append(options, strconv.Itoa(i+1))
			fmt.Fprintf(c.out, "%d. First %d\n", i+1, limit)
		}
	}
	all := strconv.Itoa(len(options) + 1)
	options = append(options, all)
	fmt.Fprintf(c.out, "%s. All\n", all)

	choice, err := c.ask.Choose(fmt.Sprintf("Enter choice (%s): ", strings.Join(options, ", ")), options)
	if err != nil {
		return 0, err
	}
	if choice == all {
		return total, nil
	}
	idx, _ := strconv.Atoi(choice)
	return displayLimits[idx-1], nil
}

func (c *Console) summaryLimit() int {
	if c.opts.Gate.SummaryLimit > 0 {
		return c.opts.Gate.SummaryLimit
	}
	return 10
}

// begin opens a history record. History failures are logged and never stop
// an operation.
func (c *Console) begin(mode alias.Mode, filter string) *history.Operation {
	if c.opts.History == nil {
		return nil
	}
	op, err := c.opts.History.StartOperation(mode, filter)
	if err != nil {
		c.log.Warn("failed to record operation start", zap.Error(err))
		return nil
	}
	return op
}

func (c *Console) finish(op *history.Operation, res drain.Result) {
	if op == nil {
		return
	}
	switch res.Action.Kind {
	case alias.KindDeactivate:
		op.Deactivated = res.Processed
	case alias.KindDelete:
		op.Deleted = res.Processed
	}
	c.close(op, res.Err)
}

func (c *Console) finishPurge(op *history.Operation, res drain.PurgeResult) {
	if op == nil {
		return
	}
	op.Deactivated = res.Deactivated.Processed
	op.Deleted = res.Deleted.Processed
	err := res.Deactivated.Err
	if err == nil {
		err = res.Deleted.Err
	}
	c.close(op, err)
}

func (c *Console) close(op *history.Operation, err error) {
	op.Outcome = history.OutcomeCompleted
	if err != nil {
		op.Outcome = history.OutcomeAborted
		op.Error = err.Error()
	}
	if err := c.opts.History.FinishOperation(op); err != nil {
		c.log.Warn("failed to record operation result", zap.String("operation", op.ID), zap.Error(err))
	}
}

// record stores an operation that never reached the drain loop.
func (c *Console) record(mode alias.Mode, filter string, outcome history.Outcome) {
	op := c.begin(mode, filter)
	if op == nil {
		return
	}
	op.Outcome = outcome
	if err := c.opts.History.FinishOperation(op); err != nil {
		c.log.Warn("failed to record operation result", zap.String("operation", op.ID), zap.Error(err))
	}
}
