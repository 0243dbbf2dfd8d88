// Package health implements the predicates over node health, replication
// lag and timers that the transition engine evaluates (spec.md §4.1).
package health

import (
	"time"

	"github.com/marcbachmann/pg-auto-failover/internal/clock"
	"github.com/marcbachmann/pg-auto-failover/pkg/formation"
	"github.com/marcbachmann/pg-auto-failover/pkg/node"
	"github.com/marcbachmann/pg-auto-failover/pkg/state"
)

// IsHealthy reports whether n is currently healthy: its last probe came
// back good and its postgres process is reported running.
func IsHealthy(n node.Node) bool {
	return n.Health == node.HealthGood && n.PgIsRunning
}

// IsUnhealthy reports whether n should be treated as failed. A node is
// unhealthy if it has gone silent for longer than the formation's
// unhealthy timeout and its last probe reported bad health — but only once
// the startup grace window has elapsed, to avoid false positives while the
// coordinator is still rebuilding its view of the world after a restart.
// A node that reports pg as not running is unhealthy unconditionally.
func IsUnhealthy(
	c clock.Clock,
	n node.Node,
	f formation.Formation,
	processStartTime time.Time,
) bool {
	if !n.PgIsRunning {
		return true
	}

	now := c.Now()
	goneSilent := now.Sub(n.ReportTime) > f.UnhealthyTimeout
	probedBad := n.Health == node.HealthBad
	probeIsFresh := n.HealthCheckTime.After(processStartTime)
	pastStartupGrace := now.Sub(processStartTime) > f.StartupGrace

	return goneSilent && probedBad && probeIsFresh && pastStartupGrace
}

// LagWithin reports whether a and b are within delta bytes of each other by
// reported LSN. Per spec.md §4.1: if either LSN is zero there is
// insufficient data and the predicate is false; if both nodes are absent
// (represented by the caller passing no node at all) the predicate is
// vacuously true — callers that have no second node to compare against
// should not call LagWithin at all and instead treat the comparison as
// vacuously satisfied at the call site.
func LagWithin(a, b node.Node, delta int64) bool {
	if a.ReportedLSN == 0 || b.ReportedLSN == 0 {
		return false
	}

	diff := int64(a.ReportedLSN) - int64(b.ReportedLSN)
	if diff < 0 {
		diff = -diff
	}

	return diff <= delta
}

// DrainExpired reports whether n has been sitting in demote_timeout for
// longer than the formation's drain timeout, meaning its self-fencing
// window has elapsed and the engine may proceed as if it were already gone.
func DrainExpired(c clock.Clock, n node.Node, f formation.Formation) bool {
	return n.GoalState == state.DemoteTimeout && c.Now().Sub(n.StateChangeTime) > f.DrainTimeout
}
