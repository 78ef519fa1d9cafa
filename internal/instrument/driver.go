package instrument

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"pt100-monitor/internal/domain"
)

const (
	DefaultModel           = "34970A"
	DefaultResetDelay      = time.Second
	defaultIdentifyTimeout = 5 * time.Second
)

// Logger defines the logging behaviour required by the driver.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// TransportDialer resolves and opens instrument transports.
type TransportDialer interface {
	Candidates(addresses []string) ([]string, error)
	Dial(ctx context.Context, address string) (Transport, error)
}

// Config describes where to look for the instrument and how to talk to it.
type Config struct {
	Addresses       []string
	Model           string
	ResetDelay      time.Duration
	IdentifyTimeout time.Duration
}

// Driver controls one 34970A. It is not safe for concurrent use: the
// measurement session is the only caller and serializes access.
type Driver struct {
	cfg    Config
	dialer TransportDialer
	logger Logger

	transport  Transport
	address    string
	identity   string
	channels   []string
	configured bool
}

func NewDriver(cfg Config, dialer TransportDialer, logger Logger) *Driver {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ResetDelay < 0 {
		cfg.ResetDelay = 0
	}
	if cfg.IdentifyTimeout <= 0 {
		cfg.IdentifyTimeout = defaultIdentifyTimeout
	}
	if dialer == nil {
		dialer = &Dialer{}
	}
	return &Driver{cfg: cfg, dialer: dialer, logger: logger}
}

// Connect probes every candidate address with *IDN? and keeps the first one
// that identifies as the configured model.
func (d *Driver) Connect(ctx context.Context) error {
	if d.transport != nil {
		return ErrAlreadyConnected
	}

	candidates, err := d.dialer.Candidates(d.cfg.Addresses)
	if err != nil {
		return err
	}

	var lastErr error
	for _, address := range candidates {
		transport, err := d.dialer.Dial(ctx, address)
		if err != nil {
			d.warn("instrument: dial failed", "address", address, "error", err)
			lastErr = err
			continue
		}

		identity, err := d.identify(ctx, transport)
		if err != nil {
			_ = transport.Close()
			d.warn("instrument: identify failed", "address", address, "error", err)
			lastErr = err
			continue
		}

		if !strings.Contains(identity, d.cfg.Model) {
			_ = transport.Close()
			d.info("instrument: not appropriate device", "address", address, "identity", identity)
			continue
		}

		d.transport = transport
		d.address = address
		d.identity = identity
		d.info("instrument: connected", "address", address, "identity", identity)
		return nil
	}

	if lastErr != nil {
		return errors.Join(ErrDeviceNotFound, lastErr)
	}
	return ErrDeviceNotFound
}

func (d *Driver) identify(ctx context.Context, transport Transport) (string, error) {
	idCtx, cancel := context.WithTimeout(ctx, d.cfg.IdentifyTimeout)
	defer cancel()

	cmd, err := Encode(OpIdentify, nil)
	if err != nil {
		return "", err
	}
	reply, err := transport.Query(idCtx, cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// Configure resets the instrument and arms a 4-wire RTD scan over channels.
func (d *Driver) Configure(ctx context.Context, channels []string) error {
	if d.transport == nil {
		return ErrNotConnected
	}
	d.configured = false

	sequence, err := ConfigureSequence(channels)
	if err != nil {
		return err
	}

	reset, err := Encode(OpReset, nil)
	if err != nil {
		return err
	}
	if err := d.transport.Write(ctx, reset); err != nil {
		return d.drop("configure", err)
	}

	// the 34970A drops commands sent right after *RST
	if d.cfg.ResetDelay > 0 {
		timer := time.NewTimer(d.cfg.ResetDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("instrument: configure: %w", ctx.Err())
		case <-timer.C:
		}
	}

	for _, cmd := range sequence {
		if err := d.transport.Write(ctx, cmd); err != nil {
			return d.drop("configure", err)
		}
	}

	d.channels = append([]string(nil), channels...)
	d.configured = true
	d.info("instrument: channels configured", "channels", strings.Join(channels, ","))
	return nil
}

// Read triggers one scan and returns a reading per configured channel. It
// blocks for the acquisition; bound it with the context deadline. A failed
// exchange leaves the driver disconnected.
func (d *Driver) Read(ctx context.Context) (domain.Sample, error) {
	if !d.configured || d.transport == nil {
		return nil, ErrNotConfigured
	}

	initiate, err := Encode(OpInitiate, nil)
	if err != nil {
		return nil, err
	}
	fetch, err := Encode(OpFetch, nil)
	if err != nil {
		return nil, err
	}

	if err := d.transport.Write(ctx, initiate); err != nil {
		return nil, d.drop("read", err)
	}
	raw, err := d.transport.Query(ctx, fetch)
	if err != nil {
		return nil, d.drop("read", err)
	}

	return ParseReadings(raw, d.channels)
}

// ParseReadings maps a FETC? reply onto channels in scan order.
func ParseReadings(raw string, channels []string) (domain.Sample, error) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) != len(channels) {
		return nil, fmt.Errorf("%w: %d values for %d channels", ErrMalformedResponse, len(parts), len(channels))
	}

	sample := make(domain.Sample, len(channels))
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: channel %s: %v", ErrMalformedResponse, channels[i], err)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("%w: channel %s: non-finite value %q", ErrMalformedResponse, channels[i], strings.TrimSpace(part))
		}
		sample[channels[i]] = value
	}
	return sample, nil
}

// drop discards the transport after a failed exchange. Whatever the instrument
// still sends belongs to the old command, so the caller must reconnect and
// configure again.
func (d *Driver) drop(action string, err error) error {
	d.warn("instrument: dropping connection", "action", action, "address", d.address, "error", err)
	d.Disconnect()
	return fmt.Errorf("instrument: %s: %w", action, err)
}

// Disconnect releases the transport. It never fails from the caller's view.
func (d *Driver) Disconnect() {
	if d.transport != nil {
		if err := d.transport.Close(); err != nil {
			d.warn("instrument: close failed", "address", d.address, "error", err)
		}
		d.info("instrument: disconnected", "address", d.address)
	}
	d.transport = nil
	d.address = ""
	d.identity = ""
	d.configured = false
}

func (d *Driver) Connected() bool {
	return d.transport != nil
}

func (d *Driver) Configured() bool {
	return d.configured
}

func (d *Driver) Identity() string {
	return d.identity
}

func (d *Driver) Channels() []string {
	return append([]string(nil), d.channels...)
}

func (d *Driver) info(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Info(msg, args...)
	}
}

func (d *Driver) warn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}

var _ domain.Instrument = (*Driver)(nil)
