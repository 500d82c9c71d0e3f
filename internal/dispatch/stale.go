package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/outreach-dispatcher/internal/pkg/logger"
)

// staleScanLoop periodically reports claims older than the configured
// threshold. It only ever reads: a stale claim means a send attempt
// with an unknown outcome, and clearing it without a human looking at
// the vendor logs could turn one send into two.
func (e *Engine) staleScanLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.opts.Dispatch.StaleScanInterval()
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scanStale(ctx)
		}
	}
}

func (e *Engine) scanStale(ctx context.Context) {
	stale, err := e.opts.Store.ScanStaleClaims(ctx, e.opts.Dispatch.StaleClaimMaxAge())
	if err != nil {
		logger.Error("stale claim scan failed", "error", err.Error())
		return
	}
	if len(stale) == 0 {
		return
	}

	var lines []string
	for _, c := range stale {
		age := ""
		if c.ClaimedAt != nil {
			age = e.clock().Sub(*c.ClaimedAt).Round(time.Minute).String()
		}
		logger.Error("stale claim needs operator review",
			"contact_id", fmt.Sprintf("%d", c.ID),
			"email", c.Email,
			"claimed_by", c.ClaimedBy,
			"age", age)
		lines = append(lines, fmt.Sprintf("contact %d via %s (%s old)", c.ID, c.ClaimedBy, age))
	}

	alert := fmt.Sprintf("DISPATCH: %d stale claim(s) need review:\n%s",
		len(stale), strings.Join(lines, "\n"))
	if err := e.opts.Notifier.Notify(ctx, alert); err != nil {
		logger.Error("operator alert failed", "error", err.Error())
	}
}
