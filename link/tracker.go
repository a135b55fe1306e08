package link

import (
	"sync"

	"github.com/bobg/lattice"
)

// Tracker remembers which messages have been seen from each source.
// Per source it keeps a watermark, below which every agreement counts
// as seen, plus the keys seen above it. Memory is therefore bounded by
// the agreements still in progress, not by history.
//
// A Tracker is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	sources map[lattice.ProcessID]*seen
}

type seen struct {
	below  uint64 // agreements < below are seen
	recent map[lattice.MsgKey]struct{}
}

// NewTracker produces an empty Tracker. Sources named in srcs are
// known from the start, so FlushAll covers them before anything is
// seen from them.
func NewTracker(srcs ...lattice.ProcessID) *Tracker {
	t := &Tracker{sources: make(map[lattice.ProcessID]*seen)}
	for _, src := range srcs {
		t.source(src)
	}
	return t
}

func (t *Tracker) source(src lattice.ProcessID) *seen {
	s, ok := t.sources[src]
	if !ok {
		s = &seen{recent: make(map[lattice.MsgKey]struct{})}
		t.sources[src] = s
	}
	return s
}

// Contains tells whether key has been seen from src.
func (t *Tracker) Contains(src lattice.ProcessID, key lattice.MsgKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sources[src]
	if !ok {
		return false
	}
	if uint64(key.Agreement) < s.below {
		return true
	}
	_, ok = s.recent[key]
	return ok
}

// Add records key as seen from src. Adding a key twice is harmless.
func (t *Tracker) Add(src lattice.ProcessID, key lattice.MsgKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.source(src)
	if uint64(key.Agreement) < s.below {
		return
	}
	s.recent[key] = struct{}{}
}

// Flush marks every agreement up to and including upTo as seen from
// src, discarding the keys this covers. The watermark never moves
// down.
func (t *Tracker) Flush(src lattice.ProcessID, upTo lattice.AgreementID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.source(src).flush(upTo)
}

// FlushAll is Flush for every source the tracker knows.
func (t *Tracker) FlushAll(upTo lattice.AgreementID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.sources {
		s.flush(upTo)
	}
}

// Prune discards the keys of agreements up to and including upTo
// without moving any watermark: they stop counting as seen.
func (t *Tracker) Prune(upTo lattice.AgreementID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.sources {
		s.discard(upTo)
	}
}

// Len is the number of keys stored for src above its watermark.
func (t *Tracker) Len(src lattice.ProcessID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sources[src]; ok {
		return len(s.recent)
	}
	return 0
}

func (s *seen) flush(upTo lattice.AgreementID) {
	if next := uint64(upTo) + 1; next > s.below {
		s.below = next
	}
	s.discard(upTo)
}

func (s *seen) discard(upTo lattice.AgreementID) {
	for key := range s.recent {
		if key.Agreement <= upTo {
			delete(s.recent, key)
		}
	}
}
