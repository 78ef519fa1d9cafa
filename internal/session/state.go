package session

import (
	"sync"
	"time"

	"pt100-monitor/internal/domain"
)

// Phase is the lifecycle position of the measurement session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseStopping
	PhaseFaulted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	case PhaseFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// runHandle belongs to one loop goroutine. done is closed when the loop has
// returned and no longer touches the instrument.
type runHandle struct {
	run      int64
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newRunHandle(run int64) *runHandle {
	return &runHandle{
		run:  run,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (h *runHandle) requestStop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *runHandle) live() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// state is shared between control calls, the loop and readers.
type state struct {
	mu         sync.RWMutex
	phase      Phase
	connected  bool
	configured bool
	recording  bool
	run        int64
	interval   time.Duration
	latest     domain.Sample
	lastErr    string
	handle     *runHandle
}

func (s *state) measuring() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle.live()
}

func (s *state) snapshot() domain.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Status{
		Measuring:  s.handle.live(),
		Recording:  s.recording,
		Connected:  s.connected,
		Configured: s.configured,
		Phase:      s.phase.String(),
		RunNumber:  s.run,
		Interval:   s.interval,
		LastError:  s.lastErr,
	}
}

func (s *state) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *state) setLink(connected, configured bool) {
	s.mu.Lock()
	s.connected = connected
	s.configured = connected && configured
	s.mu.Unlock()
}

func (s *state) setError(err error) {
	s.mu.Lock()
	if err == nil {
		s.lastErr = ""
	} else {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()
}

func (s *state) setLatest(sample domain.Sample) {
	s.mu.Lock()
	s.latest = sample
	s.mu.Unlock()
}

func (s *state) isRecording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recording
}
