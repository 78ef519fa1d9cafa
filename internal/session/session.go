package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"pt100-monitor/internal/domain"
	"pt100-monitor/internal/hub"
	"pt100-monitor/internal/metrics"
)

const (
	DefaultInterval        = 5 * time.Second
	DefaultReadTimeout     = 30 * time.Second
	DefaultPersistTimeout  = 10 * time.Second
	DefaultMaxReadFailures = 5
)

// Logger defines the logging behaviour required by the session.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config parameterizes the polling loop.
type Config struct {
	Channels        []string
	Interval        time.Duration
	ReadTimeout     time.Duration
	PersistTimeout  time.Duration
	MaxReadFailures int
	// ReleaseOnStop disconnects the instrument after every session.
	ReleaseOnStop bool
	// RecordOnStart enables persistence as soon as a session starts.
	RecordOnStart bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}
	if c.MaxReadFailures <= 0 {
		c.MaxReadFailures = DefaultMaxReadFailures
	}
	c.Channels = append([]string(nil), c.Channels...)
	return c
}

// Controller owns the instrument and runs at most one polling loop at a time.
type Controller struct {
	cfg         Config
	instrument  domain.Instrument
	counter     domain.RunCounter
	writer      domain.RecordWriter
	broadcaster domain.Broadcaster
	logger      Logger
	now         func() time.Time

	// control serializes Start, Stop, Configure and Close. The loop never
	// takes it.
	control chan struct{}
	state   state
}

func NewController(
	cfg Config,
	instrument domain.Instrument,
	counter domain.RunCounter,
	writer domain.RecordWriter,
	broadcaster domain.Broadcaster,
	logger Logger,
) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:         cfg,
		instrument:  instrument,
		counter:     counter,
		writer:      writer,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
		control:     make(chan struct{}, 1),
	}
	c.state.interval = cfg.Interval
	return c
}

// lock acquires the control region or gives up when ctx ends.
func (c *Controller) lock(ctx context.Context) error {
	select {
	case c.control <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) unlock() {
	<-c.control
}

// Start allocates a run, prepares the instrument and launches the loop.
func (c *Controller) Start(ctx context.Context) (int64, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.unlock()

	c.state.mu.Lock()
	switch {
	case c.state.handle.live():
		c.state.mu.Unlock()
		return 0, domain.ErrAlreadyRunning
	case c.state.phase == PhaseFaulted:
		c.state.mu.Unlock()
		return 0, domain.ErrFaulted
	}
	c.state.phase = PhaseStarting
	c.state.mu.Unlock()

	run, err := c.prepare(ctx)
	if err != nil {
		c.state.mu.Lock()
		c.state.phase = PhaseIdle
		c.state.lastErr = err.Error()
		c.state.mu.Unlock()
		c.syncLink()
		c.warn("session: start failed", "error", err)
		return 0, err
	}

	handle := newRunHandle(run)
	c.state.mu.Lock()
	c.state.phase = PhaseRunning
	c.state.run = run
	c.state.handle = handle
	c.state.recording = c.cfg.RecordOnStart
	c.state.lastErr = ""
	c.state.mu.Unlock()
	c.syncLink()

	metrics.SetMeasuring(true)
	go c.loop(handle)

	c.info("session: started", "run", run, "interval", c.cfg.Interval.String())
	c.broadcastStatus(ctx)
	return run, nil
}

// prepare runs with the control region held and no live loop.
func (c *Controller) prepare(ctx context.Context) (int64, error) {
	if !c.instrument.Connected() {
		if err := c.instrument.Connect(ctx); err != nil {
			return 0, fmt.Errorf("session: connect: %w", err)
		}
	}

	run, err := c.counter.NextRun(ctx)
	if err != nil {
		return 0, fmt.Errorf("session: allocate run: %w", err)
	}

	if !c.instrument.Configured() {
		if err := c.instrument.Configure(ctx, c.cfg.Channels); err != nil {
			return 0, fmt.Errorf("session: configure: %w", err)
		}
	}
	return run, nil
}

// Stop asks the loop to finish its current cycle and waits for it to exit.
// Once Stop returns nil no further reads happen for that run. If ctx ends
// first the loop still winds the session down on its own.
func (c *Controller) Stop(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	c.state.mu.Lock()
	handle := c.state.handle
	if !handle.live() {
		c.state.mu.Unlock()
		return domain.ErrNotRunning
	}
	c.state.phase = PhaseStopping
	c.state.mu.Unlock()

	handle.requestStop()
	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: waiting for loop: %w", ctx.Err())
	}
}

// Configure prepares the instrument outside a session. It also clears a fault.
func (c *Controller) Configure(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	if c.state.measuring() {
		return domain.ErrAlreadyRunning
	}
	if c.instrument.Connected() && c.instrument.Configured() {
		return domain.ErrAlreadyConfigured
	}

	err := c.configure(ctx)
	c.syncLink()
	if err != nil {
		c.state.setError(err)
		c.warn("session: configure failed", "error", err)
		return err
	}

	c.state.mu.Lock()
	c.state.phase = PhaseIdle
	c.state.lastErr = ""
	c.state.mu.Unlock()
	c.info("session: instrument configured", "channels", c.cfg.Channels)
	return nil
}

func (c *Controller) configure(ctx context.Context) error {
	if !c.instrument.Connected() {
		if err := c.instrument.Connect(ctx); err != nil {
			return fmt.Errorf("session: connect: %w", err)
		}
	}
	if err := c.instrument.Configure(ctx, c.cfg.Channels); err != nil {
		return fmt.Errorf("session: configure: %w", err)
	}
	return nil
}

// SetRecording toggles persistence of records. Enabling requires a running
// session; disabling always succeeds.
func (c *Controller) SetRecording(ctx context.Context, enabled bool) error {
	c.state.mu.Lock()
	if enabled && !c.state.handle.live() {
		c.state.mu.Unlock()
		return domain.ErrNotRunning
	}
	changed := c.state.recording != enabled
	c.state.recording = enabled
	c.state.mu.Unlock()

	if changed {
		c.info("session: recording toggled", "recording", enabled)
		c.broadcastStatus(ctx)
	}
	return nil
}

func (c *Controller) Status() domain.Status {
	return c.state.snapshot()
}

// Latest returns the last successfully read sample, nil before the first cycle.
func (c *Controller) Latest() domain.Sample {
	c.state.mu.RLock()
	defer c.state.mu.RUnlock()
	return c.state.latest.Clone()
}

// Close stops a running session and releases the instrument.
func (c *Controller) Close(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil && !errors.Is(err, domain.ErrNotRunning) {
		return err
	}

	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()

	c.instrument.Disconnect()
	c.syncLink()
	return nil
}

// syncLink mirrors the driver flags into shared state. Only called while no
// other goroutine uses the instrument.
func (c *Controller) syncLink() {
	c.state.setLink(c.instrument.Connected(), c.instrument.Configured())
}

// loop owns the instrument until h.done is closed. Everything a stopped
// session must undo happens here so that Stop giving up early loses nothing.
func (c *Controller) loop(h *runHandle) {
	if !c.poll(h) {
		c.finish(h)
	}
	metrics.SetMeasuring(false)
	c.announceStopped()
	close(h.done)
}

// finish tears down a session that ended on request. A fault has already
// done its own teardown.
func (c *Controller) finish(h *runHandle) {
	if c.cfg.ReleaseOnStop && c.instrument.Connected() {
		c.instrument.Disconnect()
	}
	c.syncLink()

	c.state.mu.Lock()
	c.state.recording = false
	if c.state.phase == PhaseStopping || c.state.phase == PhaseRunning {
		c.state.phase = PhaseIdle
	}
	c.state.mu.Unlock()

	c.info("session: stopped", "run", h.run)
}

// announceStopped runs before h.done is closed, while the snapshot still
// reports a live loop.
func (c *Controller) announceStopped() {
	if c.broadcaster == nil {
		return
	}
	msg, err := hub.StatusMessage(false, c.state.isRecording())
	if err != nil {
		c.warn("session: encode status message", "error", err)
		return
	}
	c.broadcaster.Broadcast(context.Background(), msg)
}

// poll runs cycles until a stop request or until the read failure budget is
// spent. It reports whether the session faulted.
func (c *Controller) poll(h *runHandle) bool {
	failures := 0
	for {
		select {
		case <-h.stop:
			return false
		default:
		}

		started := c.now()
		sample, err := c.read()
		if err != nil {
			failures++
			metrics.IncReadFailure()
			c.state.setError(err)
			c.warn("session: read failed", "run", h.run, "attempt", failures, "error", err)

			if failures >= c.cfg.MaxReadFailures {
				c.fault(h, err)
				return true
			}
		} else {
			failures = 0
			c.deliver(h.run, sample)
			metrics.ObserveCycle(c.now().Sub(started))
		}

		if !c.pause(h, c.cfg.Interval-c.now().Sub(started)) {
			return false
		}
	}
}

// read is bounded by the read timeout only; a stop request lets it finish.
// A link dropped by an earlier failed read is restored first.
func (c *Controller) read() (domain.Sample, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReadTimeout)
	defer cancel()

	if !c.instrument.Configured() {
		err := c.configure(ctx)
		c.syncLink()
		if err != nil {
			return nil, err
		}
		c.info("session: instrument reconnected", "channels", c.cfg.Channels)
	}

	sample, err := c.instrument.Read(ctx)
	if err != nil && !c.instrument.Configured() {
		c.syncLink()
	}
	return sample, err
}

// deliver persists and broadcasts one sample. Both finish before it returns
// and neither failure stops the loop.
func (c *Controller) deliver(run int64, sample domain.Sample) {
	record := domain.MeasurementRecord{
		RunID:     run,
		Timestamp: c.now().UTC(),
		Readings:  sample,
	}
	c.state.setLatest(sample.Clone())

	var g errgroup.Group
	if c.writer != nil && c.state.isRecording() {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PersistTimeout)
			defer cancel()

			if _, err := c.writer.Save(ctx, record); err != nil {
				metrics.IncPersistFailure()
				c.logError("session: persist failed, record dropped", "run", run, "error", err)
			}
			return nil
		})
	}
	if c.broadcaster != nil {
		g.Go(func() error {
			msg, err := hub.DataMessage(sample)
			if err != nil {
				c.warn("session: encode data message", "error", err)
				return nil
			}
			c.broadcaster.Broadcast(context.Background(), msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Controller) fault(h *runHandle, cause error) {
	c.instrument.Disconnect()
	c.syncLink()

	c.state.mu.Lock()
	c.state.phase = PhaseFaulted
	c.state.recording = false
	c.state.lastErr = cause.Error()
	c.state.mu.Unlock()

	metrics.IncFault()
	c.logError("session: faulted after consecutive read failures",
		"run", h.run, "failures", c.cfg.MaxReadFailures, "error", cause)
}

// pause sleeps for d unless a stop arrives first. It reports whether the loop
// should continue.
func (c *Controller) pause(h *runHandle, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-h.stop:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.stop:
		return false
	case <-timer.C:
		return true
	}
}

func (c *Controller) broadcastStatus(ctx context.Context) {
	if c.broadcaster == nil {
		return
	}
	status := c.state.snapshot()
	msg, err := hub.StatusMessage(status.Measuring, status.Recording)
	if err != nil {
		c.warn("session: encode status message", "error", err)
		return
	}
	c.broadcaster.Broadcast(context.WithoutCancel(ctx), msg)
}

func (c *Controller) info(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Controller) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func (c *Controller) logError(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Error(msg, args...)
	}
}

var _ domain.MeasurementService = (*Controller)(nil)
