package dispatcher

import (
	"time"

	"github.com/scitix/netpulse/internal/store"
)

// livenessGrace is the fixed slack spec.md §4.6 adds on top of whichever
// timeout applies.
const livenessGrace = 5 * time.Second

// IsAlive implements spec.md §4.6's liveness rule: a worker is alive iff
// its death_date is unset and its heartbeat is recent enough for its
// current state — busy workers get the longer of job timeout/worker TTL,
// idle workers just worker TTL.
func IsAlive(w store.WorkerRecord, jobTimeout, workerTTL time.Duration, now time.Time) bool {
	if w.IsDead() {
		return false
	}
	allowed := workerTTL
	if w.State == store.WorkerBusy && jobTimeout > allowed {
		allowed = jobTimeout
	}
	return now.Sub(w.LastHeartbeat) <= allowed+livenessGrace
}
