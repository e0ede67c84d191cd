package plugin

import (
	"context"
	"time"
)

// ScanSummary describes one completed discovery pass
type ScanSummary struct {
	ScanID     string
	Force      bool
	Duration   time.Duration
	Candidates int
	Visible    int
	Activated  int
	Failed     int
	Unchanged  int
	Removed    int
	Shadowed   int
	Invalid    int
	RootErrors int
}

// Observer receives lifecycle notifications from the Manager. Calls are made
// synchronously and must not block.
type Observer interface {
	ScanCompleted(ctx context.Context, summary ScanSummary)
	StateChanged(ctx context.Context, rec Record, from State)
	HookCompleted(ctx context.Context, pluginID, hook string, elapsed time.Duration, err error)
}

// Observers fans notifications out to each element
type Observers []Observer

func (o Observers) ScanCompleted(ctx context.Context, summary ScanSummary) {
	for _, obs := range o {
		obs.ScanCompleted(ctx, summary)
	}
}

func (o Observers) StateChanged(ctx context.Context, rec Record, from State) {
	for _, obs := range o {
		obs.StateChanged(ctx, rec, from)
	}
}

func (o Observers) HookCompleted(ctx context.Context, pluginID, hook string, elapsed time.Duration, err error) {
	for _, obs := range o {
		obs.HookCompleted(ctx, pluginID, hook, elapsed, err)
	}
}
