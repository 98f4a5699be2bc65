package rockbridge

// handles.go implements the release-exactly-once discipline shared by every
// handle type.
//
// Each wrapper owning a native resource embeds a releaseFlag. The first
// releaser wins the CompareAndSwap and runs the native destruction; every
// later (or concurrent) attempt observes the flip and no-ops. Parents track
// live children with counters and refuse to close while any remain, so
// teardown order violations surface as errors instead of native
// use-after-free.

import "sync/atomic"

// releaseFlag guards a native resource against double destruction.
type releaseFlag struct {
	released atomic.Bool
}

// release reports whether the caller is the one that releases; only the
// first caller may touch the native resource.
func (f *releaseFlag) release() bool {
	return f.released.CompareAndSwap(false, true)
}

// isReleased reports whether the resource is already gone.
func (f *releaseFlag) isReleased() bool {
	return f.released.Load()
}

// childCounts tracks the derived handles alive under a DB.
type childCounts struct {
	snapshots    atomic.Int64
	iterators    atomic.Int64
	transactions atomic.Int64
}

func (c *childCounts) total() int64 {
	return c.snapshots.Load() + c.iterators.Load() + c.transactions.Load()
}
