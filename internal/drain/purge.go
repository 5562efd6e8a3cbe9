package drain

import (
	"context"

	"go.uber.org/zap"

	"github.com/hme-tools/hme/internal/alias"
)

// PurgeResult holds both phases of a purge.
type PurgeResult struct {
	Deactivated Result
	Deleted     Result
}

// Aborted reports whether either phase stopped on an error.
func (r PurgeResult) Aborted() bool {
	return r.Deactivated.Aborted() || r.Deleted.Aborted()
}

// Purge deactivates every matching active alias, then deletes every matching
// inactive alias. The delete phase always runs, because matching aliases may
// already have been inactive; only cancellation of ctx skips it.
// Callers gate the whole chain once before calling Purge.
func (p *Processor) Purge(ctx context.Context, filter string) PurgeResult {
	var out PurgeResult
	out.Deactivated = p.Drain(ctx, alias.Deactivate, filter)

	if err := ctx.Err(); err != nil {
		p.log.Info("purge cancelled before delete phase", zap.Error(err))
		out.Deleted = Result{Action: alias.Delete, Filter: filter, State: Aborted, Err: err}
		return out
	}

	out.Deleted = p.Drain(ctx, alias.Delete, filter)
	return out
}
