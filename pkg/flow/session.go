package flow

import (
	"context"
	"io"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

type SessionConfig struct {
	APIURL       string
	PollInterval time.Duration
	FetchTimeout time.Duration
	Step         float64
	Epsilon      float64
	// FrameCoupled advances one fixed step per Tick instead of scaling the
	// step by elapsed time.
	FrameCoupled bool
	Rand         *rand.Rand
	Locator      Locator
}

// Stats describes how polling has gone so far.
type Stats struct {
	Polls       int
	Failures    int
	LastPoll    time.Time
	LastSuccess time.Time
	LastError   string
}

// Session wires the poll loop (client -> store) to the frame loop (store ->
// animator). Replace commits happen on poll goroutines; the frame loop picks
// up the latest committed cycle on its next Tick, so the animator only ever
// has one writer.
type Session struct {
	cfg      SessionConfig
	client   *Client
	store    *Store
	animator *Animator
	poller   *Poller

	seenCycle uint64
	alive     atomic.Bool

	statsMu sync.Mutex
	stats   Stats

	closeOnce sync.Once
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = cfg.PollInterval
	}
	s := &Session{
		cfg:      cfg,
		client:   NewClient(cfg.APIURL),
		store:    NewStore(cfg.Rand),
		animator: NewAnimator(cfg.Step, cfg.Epsilon),
		poller:   NewPoller(),
	}
	if cfg.Locator != nil {
		s.store.SetLocator(cfg.Locator)
	}
	s.alive.Store(true)
	return s
}

func (s *Session) Store() *Store       { return s.store }
func (s *Session) Animator() *Animator { return s.animator }
func (s *Session) Client() *Client     { return s.client }

// Start begins polling. The first poll is issued immediately.
func (s *Session) Start() {
	log.Printf("[POLL] Polling %s every %v", s.client.URL(), s.cfg.PollInterval)
	s.poller.Start(s.cfg.PollInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FetchTimeout)
		defer cancel()
		_ = s.Poll(ctx)
	})
}

// Poll fetches once and, on success, replaces the store's records. A failed
// fetch leaves the current records in place.
func (s *Session) Poll(ctx context.Context) error {
	packets, err := s.client.Fetch(ctx)

	s.statsMu.Lock()
	s.stats.Polls++
	s.stats.LastPoll = time.Now()
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	} else {
		s.stats.LastSuccess = s.stats.LastPoll
		s.stats.LastError = ""
	}
	s.statsMu.Unlock()

	if err != nil {
		log.Printf("[POLL] Error fetching packets: %v", err)
		return err
	}
	s.store.Replace(packets)
	return nil
}

// Tick runs one frame: it reconciles against a newly committed record set
// if there is one, then advances the animation. It returns the number of
// packets still moving.
func (s *Session) Tick(dt time.Duration) int {
	if records, cycle := s.store.SnapshotCycle(); cycle != s.seenCycle {
		s.animator.Reconcile(records)
		s.seenCycle = cycle
	}
	if s.cfg.FrameCoupled {
		return s.animator.Step()
	}
	return s.animator.Advance(dt)
}

func (s *Session) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Session) Alive() bool {
	return s.alive.Load()
}

// Close stops polling and releases the locator. The frame loop should stop
// once Alive reports false.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.alive.Store(false)
		s.poller.Stop()
		if c, ok := s.cfg.Locator.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
