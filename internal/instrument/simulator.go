package instrument

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultSimulatorIdentity = "HEWLETT-PACKARD,34970A,0,13-2-2"

// SimulatorConfig shapes the simulated 34970A.
type SimulatorConfig struct {
	Identity string
	// Values returns the reading for a channel. Defaults to room temperature with jitter.
	Values func(channel string) float64
	// Latency is spent inside every FETC? query, like a real scan.
	Latency time.Duration
}

// Simulator is an in-process stand-in for the instrument that speaks the
// subset of SCPI the driver uses.
type Simulator struct {
	mu        sync.Mutex
	cfg       SimulatorConfig
	rnd       *rand.Rand
	scan      []string
	initiated bool
	closed    bool
	history   []string
	failNext  map[string]error
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Identity == "" {
		cfg.Identity = defaultSimulatorIdentity
	}
	return &Simulator{
		cfg:      cfg,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		failNext: make(map[string]error),
	}
}

// Open hands the simulator out as a fresh transport.
func (s *Simulator) Open() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	return s
}

// FailNext makes the next command starting with prefix return err.
func (s *Simulator) FailNext(prefix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[prefix] = err
}

// History returns every command received so far.
func (s *Simulator) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

// Closed reports whether the last opened transport was closed.
func (s *Simulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Simulator) Write(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle(cmd)
}

func (s *Simulator) Query(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if strings.HasPrefix(cmd, "FETC?") && s.cfg.Latency > 0 {
		timer := time.NewTimer(s.cfg.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.handle(cmd); err != nil {
		return "", err
	}

	switch {
	case cmd == "*IDN?":
		return s.cfg.Identity, nil
	case cmd == "FETC?":
		if !s.initiated {
			return "", fmt.Errorf("simulator: -213,Init ignored")
		}
		s.initiated = false
		values := make([]string, len(s.scan))
		for i, ch := range s.scan {
			values[i] = strconv.FormatFloat(s.value(ch), 'E', 8, 64)
			if !strings.HasPrefix(values[i], "-") {
				values[i] = "+" + values[i]
			}
		}
		return strings.Join(values, ","), nil
	default:
		return "", fmt.Errorf("simulator: -113,Undefined header %q", cmd)
	}
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// handle applies side effects of cmd. Callers hold s.mu.
func (s *Simulator) handle(cmd string) error {
	if s.closed {
		return fmt.Errorf("simulator: transport closed")
	}
	s.history = append(s.history, cmd)

	for prefix, err := range s.failNext {
		if strings.HasPrefix(cmd, prefix) {
			delete(s.failNext, prefix)
			return err
		}
	}

	switch {
	case cmd == "*RST":
		s.scan = nil
		s.initiated = false
	case cmd == "*CLS", cmd == "*IDN?", cmd == "FETC?":
	case strings.HasPrefix(cmd, "CONF:TEMP"), strings.HasPrefix(cmd, "TEMP:TRAN:"):
	case strings.HasPrefix(cmd, "ROUT:SCAN "):
		channels, err := ParseChannelList(strings.TrimPrefix(cmd, "ROUT:SCAN "))
		if err != nil {
			return fmt.Errorf("simulator: -222,Data out of range: %w", err)
		}
		s.scan = channels
	case cmd == "INIT":
		if len(s.scan) == 0 {
			return fmt.Errorf("simulator: -221,Settings conflict, empty scan list")
		}
		s.initiated = true
	default:
		return fmt.Errorf("simulator: -113,Undefined header %q", cmd)
	}
	return nil
}

func (s *Simulator) value(channel string) float64 {
	if s.cfg.Values != nil {
		return s.cfg.Values(channel)
	}
	offset := 0.0
	if n, err := strconv.Atoi(channel); err == nil {
		offset = float64(n%100) * 0.1
	}
	return 21.0 + offset + (s.rnd.Float64()-0.5)*0.05
}
