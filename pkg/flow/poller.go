package flow

import (
	"sync"
	"time"
)

// DefaultPollInterval is how often the packet list is refreshed.
const DefaultPollInterval = 5 * time.Second

// Poller calls a function immediately and then on a fixed interval until
// stopped. Ticks only trigger work: each onTick runs on its own goroutine
// and is never awaited, so a slow fetch cannot delay the schedule.
type Poller struct {
	mu          sync.Mutex
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

func NewPoller() *Poller {
	return &Poller{}
}

// Start begins ticking. Calling Start on a running poller does nothing.
func (p *Poller) Start(interval time.Duration, onTick func()) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopChan != nil {
		return
	}
	stop, stopped := make(chan struct{}), make(chan struct{})
	p.stopChan, p.stoppedChan = stop, stopped

	go func() {
		defer close(stopped)
		go onTick()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				// Stop may race with a ready tick; prefer stopping.
				select {
				case <-stop:
					return
				default:
				}
				go onTick()
			}
		}
	}()
}

// Stop cancels all future ticks and waits for the loop to exit. Ticks that
// already fired keep running to completion on their own goroutines.
func (p *Poller) Stop() {
	p.mu.Lock()
	stop, stopped := p.stopChan, p.stoppedChan
	p.stopChan, p.stoppedChan = nil, nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopChan != nil
}
