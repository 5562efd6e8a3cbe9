package drain

import (
	"github.com/hme-tools/hme/internal/alias"
	"github.com/hme-tools/hme/internal/progress"
)

// Observer receives loop events for display and bookkeeping. Implementations
// must not influence control flow.
type Observer interface {
	Started(action alias.Action, filter string)
	Remaining(action alias.Action, filter string, listing alias.Listing, snap progress.Snapshot)
	Processed(action alias.Action, item alias.Item, snap progress.Snapshot)
	Stale(action alias.Action, item alias.Item)
	Finished(res Result)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) Started(alias.Action, string)                                   {}
func (NopObserver) Remaining(alias.Action, string, alias.Listing, progress.Snapshot) {}
func (NopObserver) Processed(alias.Action, alias.Item, progress.Snapshot)           {}
func (NopObserver) Stale(alias.Action, alias.Item)                                  {}
func (NopObserver) Finished(Result)                                                 {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) Started(a alias.Action, filter string) {
	for _, ob := range o {
		ob.Started(a, filter)
	}
}

func (o Observers) Remaining(a alias.Action, filter string, l alias.Listing, s progress.Snapshot) {
	for _, ob := range o {
		ob.Remaining(a, filter, l, s)
	}
}

func (o Observers) Processed(a alias.Action, it alias.Item, s progress.Snapshot) {
	for _, ob := range o {
		ob.Processed(a, it, s)
	}
}

func (o Observers) Stale(a alias.Action, it alias.Item) {
	for _, ob := range o {
		ob.Stale(a, it)
	}
}

func (o Observers) Finished(r Result) {
	for _, ob := range o {
		ob.Finished(r)
	}
}
