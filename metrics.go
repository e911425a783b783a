package nemocache

import (
	"github.com/uber-go/tally/v4"
)

// Counter results.
const (
	resLocalHit  = "local_hit"
	resRemoteHit = "remote_hit"
	resMiss      = "miss"
	resRejected  = "rejected"
	resSuccess   = "success"
	resFail      = "fail"
	resConflict  = "conflict"
	resAcquired  = "acquired"
	resContended = "contended"
	resReleased  = "released"
	resDropped   = "dropped"
)

type metrics struct {
	scope tally.Scope
}

func newMetrics(s tally.Scope) metrics {
	if s == nil {
		s = tally.NoopScope
	}
	return metrics{scope: s.SubScope("nemocache")}
}

// inc bumps nemocache.<op>{result=<result>}.
func (m metrics) inc(op, result string) {
	m.scope.Tagged(map[string]string{"result": result}).Counter(op).Inc(1)
}

func (m metrics) add(op, result string, n int) {
	if n <= 0 {
		return
	}
	m.scope.Tagged(map[string]string{"result": result}).Counter(op).Inc(int64(n))
}

// remote times a round-trip to the remote tier.
func (m metrics) remote(op string) tally.Stopwatch {
	return m.scope.Timer("remote." + op).Start()
}
