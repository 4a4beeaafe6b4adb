// Package archive implements the clip ingestion pipeline: window planning,
// idempotent catalog writing, the checkpointed job controller, and
// finalization. The archive_jobs ledger row is the only state a running job
// needs; any invocation can be killed and a later one resumes from the row.
package archive

import (
	"time"

	"clipvault/internal/types"
)

// Plan partitions [max(created, floor), now] into ordered fixed-length
// windows. The final window is clipped to now. Given the same inputs the
// plan is always identical, which is what makes the ledger's current_window
// a meaningful resume pointer across invocations.
func Plan(created, now time.Time, windowLen time.Duration, floor time.Time) []types.Window {
	lower := created
	if lower.Before(floor) {
		lower = floor
	}
	lower = lower.UTC()
	now = now.UTC()
	if !lower.Before(now) {
		return nil
	}

	var windows []types.Window
	for start := lower; start.Before(now); start = start.Add(windowLen) {
		end := start.Add(windowLen)
		if end.After(now) {
			end = now
		}
		windows = append(windows, types.Window{Start: start, End: end})
	}
	return windows
}

// WindowAt reconstructs window i of a stored plan from its anchor point.
// It must agree with Plan's boundaries for the same anchor and length; the
// end of the last window is clipped to now so a resumed final window also
// picks up anything clipped since the plan was made.
func WindowAt(rangeStart time.Time, windowLen time.Duration, i, total int, now time.Time) types.Window {
	start := rangeStart.UTC().Add(time.Duration(i) * windowLen)
	end := start.Add(windowLen)
	if i == total-1 && end.After(now.UTC()) {
		end = now.UTC()
	}
	return types.Window{Start: start, End: end}
}
