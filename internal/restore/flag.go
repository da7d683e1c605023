// Package restore loads a user's saved form state back into a form while
// suppressing progress recalculation and autosave.
package restore

import "sync/atomic"

// Flag marks a bulk restore in progress. Suspensions nest, so overlapping
// restores keep the flag raised until the last one resumes.
type Flag struct {
	depth atomic.Int32
}

// Suspend raises the flag.
func (f *Flag) Suspend() {
	f.depth.Add(1)
}

// Resume lowers the flag once. Extra calls are ignored.
func (f *Flag) Resume() {
	for {
		cur := f.depth.Load()
		if cur <= 0 {
			return
		}
		if f.depth.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// IsSuspended reports whether any restore is in progress.
func (f *Flag) IsSuspended() bool {
	return f.depth.Load() > 0
}
