package kraken

import (
	"strconv"
	"sync"
	"time"
)

// nonceSource issues strictly increasing nonces derived from the wall clock at
// microsecond resolution. Bursts faster than the clock tick are serialized by
// bumping past the previous value.
type nonceSource struct {
	mu   sync.Mutex
	last int64
}

func (n *nonceSource) Next() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMicro()
	if now <= n.last {
		now = n.last + 1
	}
	n.last = now
	return strconv.FormatInt(now, 10)
}
