// Package sync keeps a locally held view of the opportunities,
// applications and messages collections consistent with the backend
// under a stream of change notifications and user-initiated optimistic
// mutations. The Engine owns the stores and a single run loop; all
// mutations and event handling are serialized through it.
package sync

import (
	"time"

	"github.com/neighborly/volunteerhub/internal/models"
)

// Clock supplies the current time. Injectable so expiry behavior is
// deterministic under test.
type Clock func() time.Time

// Today strips the time of day, leaving day granularity in now's
// location. Day-level comparison avoids flapping around midnight when
// timestamps carry differing times of day.
func Today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// Visible reports whether an opportunity is open to browsing
// volunteers: not taken and dated today or later. The reconciler and
// every read path must use this same predicate.
func Visible(o models.Opportunity, today time.Time) bool {
	if o.IsTaken {
		return false
	}
	return !Today(o.Date).Before(Today(today))
}
