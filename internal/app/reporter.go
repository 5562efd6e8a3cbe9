package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/hme-tools/hme/internal/alias"
	"github.com/hme-tools/hme/internal/drain"
	"github.com/hme-tools/hme/internal/progress"
	"github.com/hme-tools/hme/internal/ui"
)

// reporter prints live progress of drain loops.
type reporter struct {
	out          io.Writer
	rateInterval int
	headless     bool
	purge        bool
}

func newReporter(out io.Writer, rateInterval int, headless, purge bool) *reporter {
	return &reporter{out: out, rateInterval: rateInterval, headless: headless, purge: purge}
}

func (r *reporter) Started(action alias.Action, filter string) {
	if r.purge && action.Kind == alias.KindDelete {
		ui.Header(r.out, "Proceeding to deletion phase of purge...")
		if filter == "" {
			fmt.Fprintln(r.out, "Proceeding to delete ALL inactive emails...")
		}
		ui.Rule(r.out)
	}
	indicator := ""
	if r.headless {
		indicator = " (HEADLESS MODE)"
	}
	fmt.Fprintf(r.out, "Starting %s process%s...\n", action.Verb, indicator)
}

func (r *reporter) Remaining(action alias.Action, filter string, l alias.Listing, snap progress.Snapshot) {
	section := action.Section
	if filter != "" {
		fmt.Fprintf(r.out, "\nRemaining %s emails matching '%s': %d (Total %s: %d)\n", section, filter, l.Relevant, section, l.Total)
	} else {
		fmt.Fprintf(r.out, "\nRemaining %s emails: %d\n", section, l.Relevant)
	}
	if snap.Processed > 0 && snap.Total > 0 {
		fmt.Fprintln(r.out, snap.String())
	}
	if l.Empty() {
		if filter != "" && l.Relevant == 0 {
			fmt.Fprintf(r.out, "No %s emails found matching '%s'.\n", section, filter)
		} else {
			fmt.Fprintf(r.out, "No %s emails remaining.\n", section)
		}
	}
}

func (r *reporter) Processed(action alias.Action, item alias.Item, snap progress.Snapshot) {
	fmt.Fprintf(r.out, "✅ Successfully %s email #%d: %s\n", action.Past, snap.Processed, item.DisplayName())
	if r.rateInterval > 0 && snap.Processed%r.rateInterval == 0 {
		fmt.Fprintf(r.out, "   📊 Rate: %s\n", snap.RatePerMinute())
	}
}

func (r *reporter) Stale(alias.Action, alias.Item) {
	fmt.Fprintln(r.out, "Page structure changed. Re-searching for elements...")
}

func (r *reporter) Finished(res drain.Result) {
	verb := capitalize(res.Action.Verb)
	if res.Aborted() {
		switch {
		case errors.Is(res.Err, context.Canceled), errors.Is(res.Err, context.DeadlineExceeded):
			fmt.Fprintln(r.out, "\n⚠️  Operation interrupted.")
		default:
			fmt.Fprintf(r.out, "\nAn error occurred: %v\n", res.Err)
			fmt.Fprintln(r.out, "Stopping to prevent processing wrong emails.")
		}
	}

	if res.Processed == 0 {
		fmt.Fprintf(r.out, "\n✅ %s complete. No emails were %s.\n", verb, res.Action.Past)
		return
	}
	if res.Aborted() {
		fmt.Fprintf(r.out, "\n⚠️  %s stopped early.\n", verb)
	} else {
		fmt.Fprintf(r.out, "\n✅ %s complete!\n", verb)
	}
	fmt.Fprintf(r.out, "   • Total %s: %d\n", res.Action.Past, res.Processed)
	fmt.Fprintf(r.out, "   • Time taken: %s\n", progress.FormatDuration(res.Elapsed))
	if res.Elapsed > 0 {
		rate := float64(res.Processed) / res.Elapsed.Seconds() * 60
		fmt.Fprintf(r.out, "   • Average rate: %.1f emails/minute\n", rate)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// recorder writes every processed alias to history.
type recorder struct {
	store Recorder
	opID  string
	log   *zap.Logger
}

func (r *recorder) Started(alias.Action, string)                                   {}
func (r *recorder) Remaining(alias.Action, string, alias.Listing, progress.Snapshot) {}
func (r *recorder) Stale(alias.Action, alias.Item)                                  {}
func (r *recorder) Finished(drain.Result)                                           {}

func (r *recorder) Processed(action alias.Action, item alias.Item, _ progress.Snapshot) {
	if err := r.store.RecordAlias(r.opID, action, item); err != nil {
		r.log.Warn("failed to record alias",
			zap.String("operation", r.opID), zap.String("address", item.Address), zap.Error(err))
	}
}

var (
	_ drain.Observer = (*reporter)(nil)
	_ drain.Observer = (*recorder)(nil)
)
