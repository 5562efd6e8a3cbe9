// Package gate asks the operator to approve an operation before anything
// is changed. Warnings escalate with batch size and irreversibility.
package gate

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hme-tools/hme/internal/alias"
	"github.com/hme-tools/hme/internal/progress"
	"github.com/hme-tools/hme/internal/ui"
)

// Confirmer asks a yes/no question.
type Confirmer interface {
	Confirm(question string) (bool, error)
}

// Options tune the gate. Zero values fall back to defaults.
type Options struct {
	LargeThreshold    int           // counts above this show a time estimate (20)
	PerItem           time.Duration // estimated time per item (3s)
	PreviewLimit      int           // rows listed for a single-section operation (50)
	PurgePreviewLimit int           // rows listed per section for purge (25)
	SummaryLimit      int           // buckets per summary group (10)
	SummaryMin        int           // smallest batch that gets a summary (5)
}

func (o Options) withDefaults() Options {
	if o.LargeThreshold <= 0 {
		o.LargeThreshold = 20
	}
	if o.PerItem <= 0 {
		o.PerItem = 3 * time.Second
	}
	if o.PreviewLimit <= 0 {
		o.PreviewLimit = 50
	}
	if o.PurgePreviewLimit <= 0 {
		o.PurgePreviewLimit = 25
	}
	if o.SummaryLimit <= 0 {
		o.SummaryLimit = 10
	}
	if o.SummaryMin <= 0 {
		o.SummaryMin = 5
	}
	return o
}

// Gate prints what an operation will touch and collects approval.
type Gate struct {
	out  io.Writer
	ask  Confirmer
	opts Options
	log  *zap.Logger
}

// New creates a Gate writing to out.
func New(out io.Writer, ask Confirmer, opts Options, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{out: out, ask: ask, opts: opts.withDefaults(), log: log}
}

// Request describes a single-section operation awaiting approval. Total is
// the size of the whole section; 0 means unknown.
type Request struct {
	Action alias.Action
	Filter string
	Items  []alias.Item
	Total  int
}

// PurgeRequest describes a purge awaiting approval. The totals are the
// sizes of the whole sections; 0 means unknown.
type PurgeRequest struct {
	Filter        string
	Active        []alias.Item
	Inactive      []alias.Item
	ActiveTotal   int
	InactiveTotal int
}

// wholeCollection reports whether filter leaves matched items out of a
// collection of total. An unknown total never counts as narrowed.
func wholeCollection(filter string, matched, total int) bool {
	return filter == "" || matched >= total
}

// Approve previews req and returns true only if every confirmation layer
// was answered yes.
func (g *Gate) Approve(req Request) (bool, error) {
	a := req.Action
	n := len(req.Items)

	ui.Header(g.out, "⚠️  OPERATION PREVIEW")
	fmt.Fprintf(g.out, "The following emails will be %s:\n\n", strings.ToUpper(a.Past))

	if n == 0 {
		fmt.Fprintf(g.out, "No %s emails found%s.\n", a.Section, matching(req.Filter))
		return false, nil
	}

	fmt.Fprintf(g.out, "📋 Emails to be %s: %d total\n", a.Past, n)
	if req.Filter != "" {
		fmt.Fprintf(g.out, "🔍 Filter applied: '%s' (searches emails and labels)\n", req.Filter)
	}
	fmt.Fprintln(g.out)
	ui.Line(g.out, 50)
	g.list(req.Items, g.opts.PreviewLimit, "   ", "emails")
	ui.Line(g.out, 50)
	if n >= g.opts.SummaryMin {
		g.summary(req.Items)
	}

	g.log.Info("approval requested",
		zap.String("action", a.Verb), zap.String("filter", req.Filter), zap.Int("count", n), zap.Int("total", req.Total))

	if a.Destructive && wholeCollection(req.Filter, n, req.Total) {
		ok, err := g.confirmAll(fmt.Sprintf("You are about to %s ALL %s emails!", a.Verb, a.Section),
			fmt.Sprintf("Are you ABSOLUTELY SURE you want to %s ALL %s emails? (yes/no): ", a.Verb, a.Section))
		if err != nil || !ok {
			return g.cancelled(a.Past, err)
		}
	}

	ui.Header(g.out, "⚠️  FINAL CONFIRMATION REQUIRED ⚠️")
	fmt.Fprintf(g.out, "You are about to %s %s.\n", a.Verb, ui.Plural(n, "email"))

	if a.Destructive {
		ok, err := g.acknowledge()
		if err != nil || !ok {
			return g.cancelled(a.Past, err)
		}
	}
	g.estimate(n)

	ok, err := g.ask.Confirm(fmt.Sprintf("Do you want to proceed with %s operation? (yes/no): ", a.Verb))
	if err != nil || !ok {
		return g.cancelled(a.Past, err)
	}

	fmt.Fprintf(g.out, "\n✅ Confirmed. Starting %s operation...\n", a.Verb)
	ui.Rule(g.out)
	return true, nil
}

// ApprovePurge previews both halves of a purge and asks once for the whole
// chain.
func (g *Gate) ApprovePurge(req PurgeRequest) (bool, error) {
	nActive, nInactive := len(req.Active), len(req.Inactive)
	total := nActive + nInactive

	ui.Header(g.out, "⚠️  PURGE OPERATION PREVIEW")
	fmt.Fprintln(g.out, "The following emails will be PURGED (deactivated then deleted):")
	fmt.Fprintln(g.out)

	if total == 0 {
		fmt.Fprintf(g.out, "No emails found%s.\n", matching(req.Filter))
		return false, nil
	}

	fmt.Fprintf(g.out, "📋 Total emails to be purged: %d\n", total)
	if req.Filter != "" {
		fmt.Fprintf(g.out, "🔍 Filter applied: '%s'\n", req.Filter)
	}
	fmt.Fprintf(g.out, "\n   • Active emails to deactivate: %d\n", nActive)
	fmt.Fprintf(g.out, "   • Inactive emails to delete: %d\n", nInactive)
	ui.Line(g.out, ui.Width)

	if nActive > 0 {
		fmt.Fprintln(g.out, "\n🟢 ACTIVE emails (will be deactivated first):")
		g.list(req.Active, g.opts.PurgePreviewLimit, "   ", "active emails")
	}
	if nInactive > 0 {
		fmt.Fprintln(g.out, "\n🔴 INACTIVE emails (will be permanently deleted):")
		g.list(req.Inactive, g.opts.PurgePreviewLimit, "   ", "inactive emails")
	}
	ui.Line(g.out, ui.Width)

	all := append(append([]alias.Item(nil), req.Active...), req.Inactive...)
	if total >= g.opts.SummaryMin {
		g.summary(all)
	}

	g.log.Info("purge approval requested",
		zap.String("filter", req.Filter), zap.Int("active", nActive), zap.Int("inactive", nInactive))

	if wholeCollection(req.Filter, total, req.ActiveTotal+req.InactiveTotal) {
		ok, err := g.confirmAll("You are about to purge ALL emails!\n"+
			"This will:\n"+
			"1. Deactivate ALL active Hide My Email addresses\n"+
			"2. Permanently DELETE ALL Hide My Email addresses",
			"Are you ABSOLUTELY SURE you want to purge ALL emails? (yes/no): ")
		if err != nil || !ok {
			return g.cancelled("affected", err)
		}
	}

	ui.Header(g.out, "⚠️⚠️  FINAL PURGE CONFIRMATION  ⚠️⚠️")
	fmt.Fprintf(g.out, "You are about to PERMANENTLY PURGE %s:\n", ui.Plural(total, "email"))
	fmt.Fprintf(g.out, "   • %d will be deactivated\n", nActive)
	fmt.Fprintf(g.out, "   • %d will be permanently deleted\n", total)

	ok, err := g.acknowledge()
	if err != nil || !ok {
		return g.cancelled("affected", err)
	}
	g.estimate(total)

	ok, err = g.ask.Confirm(fmt.Sprintf("Are you ABSOLUTELY SURE you want to PURGE %d emails? (yes/no): ", total))
	if err != nil || !ok {
		return g.cancelled("affected", err)
	}

	fmt.Fprintln(g.out, "\n✅ Purge confirmed. Starting operation...")
	ui.Rule(g.out)
	return true, nil
}

// confirmAll is the extra layer shown when the filter does not narrow a
// destructive batch to part of its collection.
func (g *Gate) confirmAll(warning, question string) (bool, error) {
	ui.Header(g.out, "⚠️⚠️⚠️  EXTREME WARNING ⚠️⚠️⚠️")
	fmt.Fprintln(g.out, warning)
	fmt.Fprintln(g.out, "This is IRREVERSIBLE!")
	ui.Rule(g.out)
	return g.ask.Confirm(question)
}

func (g *Gate) acknowledge() (bool, error) {
	fmt.Fprintln(g.out, "\n❗ This action is PERMANENT and cannot be undone!")
	return g.ask.Confirm("Do you understand that deleted addresses cannot be recovered? (yes/no): ")
}

func (g *Gate) estimate(n int) {
	fmt.Fprintln(g.out)
	if n > g.opts.LargeThreshold {
		fmt.Fprintf(g.out, "⚠️  WARNING: This is a large operation (%d emails)\n", n)
		est := time.Duration(n) * g.opts.PerItem
		fmt.Fprintf(g.out, "⏱️  Estimated time: %s\n\n", progress.FormatDuration(est))
	}
}

func (g *Gate) cancelled(past string, err error) (bool, error) {
	if err != nil {
		g.log.Warn("approval prompt failed", zap.Error(err))
	}
	fmt.Fprintf(g.out, "\n❌ Operation cancelled. No emails were %s.\n", past)
	return false, err
}

func (g *Gate) list(items []alias.Item, limit int, indent, noun string) {
	for i, it := range items {
		if i >= limit {
			fmt.Fprintf(g.out, "\n%s... and %d more %s\n", indent, len(items)-limit, noun)
			break
		}
		fmt.Fprintf(g.out, "%s%3d. %s\n", indent, i+1, it.DisplayName())
	}
}

func (g *Gate) summary(items []alias.Item) {
	PrintSummary(g.out, alias.Summarize(items, g.opts.SummaryLimit))
}

// PrintSummary writes the service and label breakdown.
func PrintSummary(w io.Writer, s alias.Summary) {
	if len(s.Services) > 0 {
		fmt.Fprintln(w, "\n📊 Summary by service:")
		for _, c := range s.Services {
			fmt.Fprintf(w, "   • %s: %s\n", c.Name, ui.Plural(c.Count, "email"))
		}
	}
	if len(s.Labels) > 0 {
		fmt.Fprintln(w, "\n🏷️  Summary by label:")
		for _, c := range s.Labels {
			fmt.Fprintf(w, "   • %s: %s\n", c.Name, ui.Plural(c.Count, "email"))
		}
	}
}

func matching(filter string) string {
	if filter == "" {
		return ""
	}
	return fmt.Sprintf(" matching '%s'", filter)
}
