package adminapi

import (
	"context"
	"encoding/json"

	"github.com/npratt/dashlink/internal/gateway"
	"golang.org/x/sync/errgroup"
)

// RecentLimit is how many applications and jobs the dashboard shows.
const RecentLimit = 5

// Dashboard is the aggregate of the four dashboard calls.
// Each section holds the real payload or its fallback.
type Dashboard struct {
	Stats              json.RawMessage   `json:"stats"`
	RecentApplications json.RawMessage   `json:"recentApplications"`
	RecentJobs         json.RawMessage   `json:"recentJobs"`
	UnreadCount        int               `json:"unreadCount"`
	Failures           []gateway.Failure `json:"failures,omitempty"`
	Degraded           bool              `json:"degraded"`
}

// Dashboard runs the stats, recent applications, recent jobs and unread
// count calls concurrently. One failing call never fails the aggregate.
func (c *Client) Dashboard(ctx context.Context) Dashboard {
	calls := []func(context.Context) gateway.Outcome{
		c.Stats,
		func(ctx context.Context) gateway.Outcome { return c.Applications(ctx, 1, RecentLimit) },
		func(ctx context.Context) gateway.Outcome { return c.Jobs(ctx, 1, RecentLimit) },
		c.UnreadCount,
	}
	outcomes := make([]gateway.Outcome, len(calls))

	// Every goroutine returns nil: all-settled, never first-error
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = call(ctx)
			return nil
		})
	}
	_ = g.Wait()

	d := Dashboard{
		Stats:              outcomes[0].Payload,
		RecentApplications: outcomes[1].Payload,
		RecentJobs:         outcomes[2].Payload,
	}
	if uc, ok := gateway.As[UnreadCount](outcomes[3]); ok {
		d.UnreadCount = uc.UnreadCount
	}
	for _, o := range outcomes {
		if !o.OK {
			d.Failures = append(d.Failures, *o.Failure)
		}
	}
	d.Degraded = len(d.Failures) > 0
	return d
}
