package record

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/loom/snapshot"
)

// ---------------------------------------------------------------------------
// Sampler: periodic asynchronous walk recording
// ---------------------------------------------------------------------------

// SampleSource produces one walk snapshot per call. ok is false when the
// target could not be walked at that instant (the thread was mid-mutation),
// which the sampler tolerates rather than reports: asynchronous walking is
// best-effort by contract.
type SampleSource interface {
	Sample() (snap *snapshot.Snapshot, ok bool)
}

// SampleSourceFunc adapts a function to SampleSource.
type SampleSourceFunc func() (*snapshot.Snapshot, bool)

// Sample calls f.
func (f SampleSourceFunc) Sample() (*snapshot.Snapshot, bool) { return f() }

// SamplerStats holds statistics from the most recent sample.
type SamplerStats struct {
	Samples    uint64
	Misses     uint64
	LastWalkID string
	Timestamp  time.Time
}

// Sampler periodically samples a source and stores the resulting walk
// snapshots. Missed samples are counted, never treated as failures.
type Sampler struct {
	source   SampleSource
	store    *Store
	interval time.Duration
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex // protects start/stop lifecycle

	// Statistics
	sampleCount atomic.Uint64
	missCount   atomic.Uint64
	lastStats   atomic.Value // *SamplerStats
}

// DefaultSampleInterval is the default sampling period.
const DefaultSampleInterval = 10 * time.Millisecond

// NewSampler creates a sampler recording from source into store every
// interval. Use DefaultSampleInterval for the default.
func NewSampler(source SampleSource, store *Store, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{
		source:   source,
		store:    store,
		interval: interval,
	}
}

// Start begins the sampling goroutine. It is safe to call Start multiple
// times; only one loop will run.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return // already running
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	go s.run(s.stop, s.stopped)
}

// Stop halts the sampling goroutine and waits for it to exit.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == nil {
		return // not running
	}
	close(s.stop)
	<-s.stopped
	s.stop = nil
	s.stopped = nil
}

func (s *Sampler) run(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

// SampleOnce takes and stores a single sample immediately, outside the
// periodic loop. Returns the stored walk ID, or "" on a miss.
func (s *Sampler) SampleOnce() (string, error) {
	return s.sampleOnce()
}

func (s *Sampler) sampleOnce() (string, error) {
	snap, ok := s.source.Sample()
	if !ok || snap == nil {
		s.missCount.Add(1)
		s.publishStats("")
		return "", nil
	}
	if err := s.store.Put(snap); err != nil {
		return "", err
	}
	s.sampleCount.Add(1)
	s.publishStats(snap.WalkID)
	return snap.WalkID, nil
}

func (s *Sampler) publishStats(walkID string) {
	s.lastStats.Store(&SamplerStats{
		Samples:    s.sampleCount.Load(),
		Misses:     s.missCount.Load(),
		LastWalkID: walkID,
		Timestamp:  time.Now(),
	})
}

// SampleCount returns the number of snapshots stored so far.
func (s *Sampler) SampleCount() uint64 { return s.sampleCount.Load() }

// MissCount returns the number of tolerated sampling misses so far.
func (s *Sampler) MissCount() uint64 { return s.missCount.Load() }

// LastStats returns statistics from the most recent sample, or nil if no
// sample was attempted yet.
func (s *Sampler) LastStats() *SamplerStats {
	v := s.lastStats.Load()
	if v == nil {
		return nil
	}
	return v.(*SamplerStats)
}
