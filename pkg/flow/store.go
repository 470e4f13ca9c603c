package flow

import (
	"math/rand"
	"sync"
	"time"
)

// Store holds the flow records of the latest successful poll. Every Replace
// discards the previous set wholesale.
type Store struct {
	mu      sync.RWMutex
	records []FlowRecord
	cycle   uint64
	nextID  FlowID
	updated time.Time
	rng     *rand.Rand
	locator Locator
}

// NewStore creates a store drawing coordinates and colors from rng. A nil
// rng is seeded from the clock.
func NewStore(rng *rand.Rand) *Store {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Store{rng: rng}
}

// SetLocator makes the store place endpoints using l. Endpoints l cannot
// resolve keep their random placement.
func (s *Store) SetLocator(l Locator) {
	s.mu.Lock()
	s.locator = l
	s.mu.Unlock()
}

// Replace builds a fresh record for every raw packet and swaps it in as the
// current set. It never fails; packets without addresses get empty labels.
func (s *Store) Replace(raw []RawPacket) []FlowRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycle++
	records := make([]FlowRecord, len(raw))
	for i, p := range raw {
		s.nextID++
		r := FlowRecord{
			ID:                 s.nextID,
			Cycle:              s.cycle,
			SourceAddress:      p.SrcIP,
			DestinationAddress: p.DstIP,
		}
		r.Start, r.SourceCountry = s.place(p.SrcIP)
		r.End, r.DestinationCountry = s.place(p.DstIP)
		r.Color = RandomHue(s.rng)
		records[i] = r
	}
	s.records = records
	s.updated = time.Now()

	out := make([]FlowRecord, len(records))
	copy(out, records)
	return out
}

// place must be called with mu held.
func (s *Store) place(addr string) (GeoCoordinate, string) {
	var cc string
	if s.locator != nil && addr != "" {
		c, code, ok := s.locator.Locate(addr)
		if ok {
			return c, code
		}
		cc = code
	}
	return RandomCoordinate(s.rng), cc
}

// RandomCoordinate samples longitude in [-180,180) and latitude in [-90,90).
func RandomCoordinate(rng *rand.Rand) GeoCoordinate {
	return GeoCoordinate{
		Lng: rng.Float64()*360 - 180,
		Lat: rng.Float64()*180 - 90,
	}
}

// Snapshot returns a copy of the current records in arrival order.
func (s *Store) Snapshot() []FlowRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FlowRecord, len(s.records))
	copy(out, s.records)
	return out
}

// SnapshotCycle returns the current records together with the cycle that
// produced them.
func (s *Store) SnapshotCycle() ([]FlowRecord, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FlowRecord, len(s.records))
	copy(out, s.records)
	return out, s.cycle
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Cycle is the number of completed replaces.
func (s *Store) Cycle() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycle
}

func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}
