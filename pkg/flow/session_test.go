package flow

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestSession(t *testing.T, handler http.Handler, frameCoupled bool) *Session {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s := NewSession(SessionConfig{
		APIURL:       srv.URL,
		Rand:         rand.New(rand.NewSource(1)),
		FrameCoupled: frameCoupled,
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionSinglePacketScenario(t *testing.T) {
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"src_ip":"1.1.1.1","dst_ip":"2.2.2.2"}]`))
	}), true)

	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	records := s.Store().Snapshot()
	if len(records) != 1 {
		t.Fatalf("store has %d records; want 1", len(records))
	}
	if !records[0].Start.Valid() || !records[0].End.Valid() || records[0].Color.String() == "" {
		t.Errorf("bad record: %+v", records[0])
	}

	s.Tick(0)
	st, ok := s.Animator().State(records[0].ID)
	if !ok || s.Animator().Len() != 1 {
		t.Fatalf("animator has %d states; want the new record", s.Animator().Len())
	}
	if st.Phase != PhaseMoving {
		t.Errorf("Phase = %v after one frame; want moving", st.Phase)
	}

	for i := 0; i < 149; i++ {
		s.Tick(ReferenceFrame)
	}
	st, _ = s.Animator().State(records[0].ID)
	if st.Phase != PhaseArrived {
		t.Errorf("Phase = %v after 150 frames; want arrived", st.Phase)
	}
	end := records[0].End
	if math.Abs(st.Position.Lng-end.Lng) >= DefaultEpsilon || math.Abs(st.Position.Lat-end.Lat) >= DefaultEpsilon {
		t.Errorf("Position = %v; want within epsilon of %v", st.Position, end)
	}
}

func TestSessionEmptyPoll(t *testing.T) {
	var calls atomic.Int64
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`[{"src_ip":"1.1.1.1","dst_ip":"2.2.2.2"}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}), false)

	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	s.Tick(ReferenceFrame)
	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if moving := s.Tick(ReferenceFrame); moving != 0 {
		t.Errorf("Tick() = %d moving; want 0", moving)
	}
	if s.Store().Len() != 0 || s.Animator().Len() != 0 {
		t.Errorf("store=%d animator=%d; want both empty", s.Store().Len(), s.Animator().Len())
	}
}

func TestSessionFetchFailureKeepsPreviousCycle(t *testing.T) {
	var calls atomic.Int64
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`[{"src_ip":"1.1.1.1","dst_ip":"2.2.2.2"},{"src_ip":"3.3.3.3","dst_ip":"4.4.4.4"}]`))
			return
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}), false)

	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("cycle 1 Poll() error: %v", err)
	}
	s.Tick(ReferenceFrame)
	cycle1 := s.Store().Snapshot()
	before := make(map[FlowID]float64)
	for st := range s.Animator().Packets() {
		before[st.Record.ID] = st.Progress
	}

	if err := s.Poll(context.Background()); !errors.Is(err, ErrFetch) {
		t.Fatalf("cycle 2 Poll() error = %v; want ErrFetch", err)
	}
	s.Tick(ReferenceFrame)

	after := s.Store().Snapshot()
	if len(after) != len(cycle1) {
		t.Fatalf("store has %d records after failed poll; want %d", len(after), len(cycle1))
	}
	for i := range after {
		if after[i] != cycle1[i] {
			t.Errorf("record %d changed after failed poll: %+v -> %+v", i, cycle1[i], after[i])
		}
	}
	if s.Animator().Len() != len(cycle1) {
		t.Fatalf("animator has %d states; want %d", s.Animator().Len(), len(cycle1))
	}
	for st := range s.Animator().Packets() {
		prev, ok := before[st.Record.ID]
		if !ok {
			t.Errorf("unexpected state %d after failed poll", st.Record.ID)
			continue
		}
		if st.Phase == PhaseMoving && st.Progress <= prev {
			t.Errorf("flow %d stopped advancing: %v -> %v", st.Record.ID, prev, st.Progress)
		}
	}

	stats := s.Stats()
	if stats.Polls != 2 || stats.Failures != 1 || stats.LastError == "" {
		t.Errorf("Stats() = %+v; want 2 polls, 1 failure and an error message", stats)
	}
}

func TestSessionStartAndClose(t *testing.T) {
	polled := make(chan struct{}, 1)
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"src_ip":"1.1.1.1","dst_ip":"2.2.2.2"}]`))
		select {
		case polled <- struct{}{}:
		default:
		}
	}), false)

	s.Start()
	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not poll immediately")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if s.Alive() {
		t.Error("Alive() = true after Close")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}
