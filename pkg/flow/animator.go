package flow

import (
	"iter"
	"math"
	"slices"
	"sync"
	"time"
)

const (
	// DefaultStep is the fraction of the start->end span covered per frame.
	DefaultStep = 0.01
	// DefaultEpsilon is the per-axis arrival tolerance in degrees.
	DefaultEpsilon = 0.01
	// ReferenceFrame is the frame length Step is calibrated against.
	ReferenceFrame = time.Second / 60
)

// Animator owns one PacketState per flow of the current record set and
// moves them towards their destination every frame.
type Animator struct {
	step    float64
	epsilon float64

	mu         sync.RWMutex
	states     map[FlowID]*PacketState
	order      []FlowID
	generation uint64
}

func NewAnimator(step, epsilon float64) *Animator {
	if step <= 0 {
		step = DefaultStep
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Animator{
		step:    step,
		epsilon: epsilon,
		states:  make(map[FlowID]*PacketState),
	}
}

func (a *Animator) StepSize() float64 { return a.step }
func (a *Animator) Epsilon() float64  { return a.epsilon }

// Reconcile makes the state set match records: states for flows that are no
// longer present are dropped, new flows start Moving at their origin, and
// iteration order follows records.
func (a *Animator) Reconcile(records []FlowRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := make(map[FlowID]*PacketState, len(records))
	order := make([]FlowID, 0, len(records))
	for _, r := range records {
		if _, dup := next[r.ID]; dup {
			continue
		}
		if st, ok := a.states[r.ID]; ok {
			next[r.ID] = st
		} else {
			next[r.ID] = a.newState(r)
		}
		order = append(order, r.ID)
	}
	a.states = next
	a.order = order
	a.generation++
}

func (a *Animator) newState(r FlowRecord) *PacketState {
	st := &PacketState{Record: r, Position: r.Start, Phase: PhaseMoving}
	if a.arrived(r.Start, r.End) {
		st.Position = r.End
		st.Progress = 1
		st.Phase = PhaseArrived
	}
	return st
}

func (a *Animator) arrived(pos, end GeoCoordinate) bool {
	return math.Abs(pos.Lng-end.Lng) < a.epsilon && math.Abs(pos.Lat-end.Lat) < a.epsilon
}

// Step advances every moving packet by exactly one step, independent of
// how much time has passed. It returns how many packets are still moving.
func (a *Animator) Step() int {
	return a.advance(a.step)
}

// Advance moves packets by the share of a step that dt represents relative
// to ReferenceFrame, so the animation speed does not depend on frame rate.
func (a *Animator) Advance(dt time.Duration) int {
	if dt <= 0 {
		return a.Moving()
	}
	return a.advance(a.step * float64(dt) / float64(ReferenceFrame))
}

func (a *Animator) advance(fraction float64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	moving := 0
	for _, id := range a.order {
		st := a.states[id]
		if st.Phase == PhaseArrived {
			continue
		}
		st.Progress = math.Min(st.Progress+fraction, 1)
		start, end := st.Record.Start, st.Record.End
		st.Position = GeoCoordinate{
			Lng: start.Lng + (end.Lng-start.Lng)*st.Progress,
			Lat: start.Lat + (end.Lat-start.Lat)*st.Progress,
		}
		if a.arrived(st.Position, end) || st.Progress >= 1 {
			st.Position = end
			st.Progress = 1
			st.Phase = PhaseArrived
			continue
		}
		moving++
	}
	return moving
}

func (a *Animator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}

func (a *Animator) State(id FlowID) (PacketState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.states[id]
	if !ok {
		return PacketState{}, false
	}
	return *st, true
}

// Packets yields a copy of each state in record arrival order. States that
// are reconciled away while iterating are skipped.
func (a *Animator) Packets() iter.Seq[PacketState] {
	a.mu.RLock()
	order := a.order
	a.mu.RUnlock()

	return func(yield func(PacketState) bool) {
		for _, id := range order {
			a.mu.RLock()
			st, ok := a.states[id]
			var cp PacketState
			if ok {
				cp = *st
			}
			a.mu.RUnlock()
			if !ok {
				continue
			}
			if !yield(cp) {
				return
			}
		}
	}
}

// Records returns the records backing the current states, in order.
func (a *Animator) Records() []FlowRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]FlowRecord, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.states[id].Record)
	}
	return out
}

func (a *Animator) Frame() Frame {
	a.mu.RLock()
	gen := a.generation
	a.mu.RUnlock()
	packets := slices.Collect(a.Packets())
	if packets == nil {
		packets = []PacketState{}
	}
	return Frame{Cycle: gen, Packets: packets}
}

func (a *Animator) Counts() (moving, arrived int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, st := range a.states {
		if st.Phase == PhaseArrived {
			arrived++
		} else {
			moving++
		}
	}
	return moving, arrived
}

func (a *Animator) Moving() int {
	m, _ := a.Counts()
	return m
}
