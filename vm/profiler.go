package vm

import (
	"sync/atomic"
)

// Profiler counts how helper calls are served. A helper whose slow path is
// entered often points at a call site the compiler should handle
// differently: an allocation that keeps missing the thread-local buffer, a
// monitor that is always contended, an entry that never stays resolved.

// HelperProfile holds the counters of one helper.
type HelperProfile struct {
	Calls       uint64 // every invocation
	FastHits    uint64 // served by the fast path
	SlowEntries uint64 // went through the slow path
	Throws      uint64 // ended with an exception
	Redirects   uint64 // ended with a control transfer
	IsHot       bool   // slow entries reached SlowHotThreshold
}

// Profiler manages the counters of every helper.
type Profiler struct {
	profiles [numHelpers]HelperProfile

	// SlowHotThreshold is the number of slow-path entries after which a
	// helper is reported hot.
	SlowHotThreshold uint64

	// OnHot is called once per helper when it becomes hot.
	OnHot func(id HelperID, profile HelperProfile)

	hotCount atomic.Uint64
}

// NewProfiler creates a profiler with default thresholds.
func NewProfiler() *Profiler {
	return &Profiler{SlowHotThreshold: 1000}
}

func (p *Profiler) recordCall(id HelperID) {
	atomic.AddUint64(&p.profiles[id].Calls, 1)
}

func (p *Profiler) recordFastHit(id HelperID) {
	atomic.AddUint64(&p.profiles[id].FastHits, 1)
}

// recordSlowEntry counts a slow-path entry. It returns true if this entry
// made the helper hot.
func (p *Profiler) recordSlowEntry(id HelperID) bool {
	prof := &p.profiles[id]
	count := atomic.AddUint64(&prof.SlowEntries, 1)
	if count != p.SlowHotThreshold {
		return false
	}
	p.hotCount.Add(1)
	if p.OnHot != nil {
		p.OnHot(id, p.Profile(id))
	}
	return true
}

func (p *Profiler) recordThrow(id HelperID) {
	atomic.AddUint64(&p.profiles[id].Throws, 1)
}

func (p *Profiler) recordRedirect(id HelperID) {
	atomic.AddUint64(&p.profiles[id].Redirects, 1)
}

// Profile returns a snapshot of the counters of id.
func (p *Profiler) Profile(id HelperID) HelperProfile {
	prof := &p.profiles[id]
	return HelperProfile{
		Calls:       atomic.LoadUint64(&prof.Calls),
		FastHits:    atomic.LoadUint64(&prof.FastHits),
		SlowEntries: atomic.LoadUint64(&prof.SlowEntries),
		Throws:      atomic.LoadUint64(&prof.Throws),
		Redirects:   atomic.LoadUint64(&prof.Redirects),
		IsHot:       atomic.LoadUint64(&prof.SlowEntries) >= p.SlowHotThreshold,
	}
}

// HelperCounters pairs a helper with its counters.
type HelperCounters struct {
	Helper HelperID
	HelperProfile
}

// Snapshot returns the counters of every helper that has been called, in
// HelperID order.
func (p *Profiler) Snapshot() []HelperCounters {
	var out []HelperCounters
	for id := HelperID(1); id < numHelpers; id++ {
		if prof := p.Profile(id); prof.Calls > 0 {
			out = append(out, HelperCounters{Helper: id, HelperProfile: prof})
		}
	}
	return out
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	Helpers     int    // helpers called at least once
	HotHelpers  int    // helpers past the slow threshold
	Calls       uint64 // total calls
	FastHits    uint64 // total fast-path hits
	SlowEntries uint64 // total slow-path entries
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	for _, c := range p.Snapshot() {
		stats.Helpers++
		stats.Calls += c.Calls
		stats.FastHits += c.FastHits
		stats.SlowEntries += c.SlowEntries
		if c.IsHot {
			stats.HotHelpers++
		}
	}
	return stats
}

// TopSlowPaths returns the n helpers with the most slow-path entries.
func (p *Profiler) TopSlowPaths(n int) []HelperCounters {
	all := p.Snapshot()

	// Selection sort for the top n; the helper set is small.
	for i := 0; i < n && i < len(all); i++ {
		maxIdx := i
		for j := i + 1; j < len(all); j++ {
			if all[j].SlowEntries > all[maxIdx].SlowEntries {
				maxIdx = j
			}
		}
		all[i], all[maxIdx] = all[maxIdx], all[i]
	}
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// Reset clears all counters. It must not race with helper calls.
func (p *Profiler) Reset() {
	p.profiles = [numHelpers]HelperProfile{}
	p.hotCount.Store(0)
}

// HotHelpers returns the number of helpers that became hot since the last
// Reset.
func (p *Profiler) HotHelpers() uint64 { return p.hotCount.Load() }
