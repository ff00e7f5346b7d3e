package api

import (
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

var lastRevision int64

// nextRevision returns a strictly increasing revision for each mutation.
// Revisions are nanosecond timestamps bumped past the previous value so
// two mutations in the same nanosecond still order deterministically.
func nextRevision() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastRevision)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastRevision, last, now) {
			return now
		}
	}
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDur(name string, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
