package instrument

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultTerminator  = "\n"
	defaultIOTimeout   = 10 * time.Second
	defaultDialTimeout = 3 * time.Second
	defaultSCPIPort    = "5025"
)

// Transport carries SCPI commands to the instrument. It is not safe for concurrent use.
type Transport interface {
	Write(ctx context.Context, cmd string) error
	Query(ctx context.Context, cmd string) (string, error)
	Close() error
}

// lineTransport frames commands with a terminator and reads newline-terminated
// replies. After an I/O error the connection is closed for good: a reply that
// arrives late would otherwise be read as the answer to the next query.
type lineTransport struct {
	conn        io.ReadWriteCloser
	reader      *bufio.Reader
	setDeadline func(time.Time) error
	terminator  string

	broken error
	closed bool
}

func newLineTransport(conn io.ReadWriteCloser, setDeadline func(time.Time) error, terminator string) *lineTransport {
	if terminator == "" {
		terminator = defaultTerminator
	}
	return &lineTransport{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		setDeadline: setDeadline,
		terminator:  terminator,
	}
}

func (t *lineTransport) Write(ctx context.Context, cmd string) error {
	if err := t.usable(); err != nil {
		return err
	}
	release, err := t.arm(ctx)
	if err != nil {
		return err
	}
	defer release()

	if _, err := io.WriteString(t.conn, cmd+t.terminator); err != nil {
		return t.translate(ctx, fmt.Errorf("write %q: %w", cmd, err))
	}
	return nil
}

func (t *lineTransport) Query(ctx context.Context, cmd string) (string, error) {
	if err := t.usable(); err != nil {
		return "", err
	}
	release, err := t.arm(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	if _, err := io.WriteString(t.conn, cmd+t.terminator); err != nil {
		return "", t.translate(ctx, fmt.Errorf("write %q: %w", cmd, err))
	}

	line, err := t.reader.ReadString('\n')
	if err != nil {
		return "", t.translate(ctx, fmt.Errorf("read reply to %q: %w", cmd, err))
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *lineTransport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

func (t *lineTransport) usable() error {
	if t.broken != nil {
		return fmt.Errorf("%w: %v", ErrTransportBroken, t.broken)
	}
	if t.closed {
		return ErrTransportBroken
	}
	return nil
}

// arm applies the context deadline to the connection and interrupts blocked
// I/O when the context is cancelled.
func (t *lineTransport) arm(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultIOTimeout)
	}
	if t.setDeadline != nil {
		if err := t.setDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		if t.setDeadline != nil {
			_ = t.setDeadline(time.Now())
		}
	})
	return func() { stop() }, nil
}

// translate classifies an I/O error and poisons the transport.
func (t *lineTransport) translate(ctx context.Context, err error) error {
	t.broken = err
	_ = t.Close()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ctxErr, err)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, errReadTimeout) {
		// the conn deadline can fire a moment before the context timer
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return errors.Join(context.DeadlineExceeded, ErrReadTimeout, err)
		}
		return errors.Join(ErrReadTimeout, err)
	}
	return err
}

// Dialer opens transports from instrument addresses:
//
//	tcp://host:5025
//	serial:///dev/ttyUSB0?baud=9600
//	serial://auto
//	sim://
type Dialer struct {
	Terminator  string
	DialTimeout time.Duration
	Simulator   *Simulator
	// SerialPorts enumerates local serial ports for serial://auto.
	SerialPorts func() ([]string, error)
}

// Candidates expands the configured addresses into concrete dial targets.
func (d *Dialer) Candidates(addresses []string) ([]string, error) {
	var out []string
	for _, raw := range addresses {
		address := strings.TrimSpace(raw)
		if address == "" {
			continue
		}
		u, err := url.Parse(address)
		if err != nil {
			return nil, fmt.Errorf("instrument: parse address %q: %w", address, err)
		}
		if u.Scheme == "serial" && u.Host == "auto" {
			ports, err := d.serialPorts()
			if err != nil {
				return nil, fmt.Errorf("instrument: list serial ports: %w", err)
			}
			query := ""
			if u.RawQuery != "" {
				query = "?" + u.RawQuery
			}
			for _, port := range ports {
				out = append(out, "serial://"+port+query)
			}
			continue
		}
		out = append(out, address)
	}
	return out, nil
}

// Dial opens the transport addressed by address.
func (d *Dialer) Dial(ctx context.Context, address string) (Transport, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("instrument: parse address %q: %w", address, err)
	}

	switch u.Scheme {
	case "tcp":
		return d.dialTCP(ctx, u)
	case "serial":
		return d.dialSerial(u)
	case "sim":
		if d.Simulator == nil {
			d.Simulator = NewSimulator(SimulatorConfig{})
		}
		return d.Simulator.Open(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

func (d *Dialer) dialTCP(ctx context.Context, u *url.URL) (Transport, error) {
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultSCPIPort)
	}

	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("instrument: dial %s: %w", host, err)
	}
	return newLineTransport(conn, conn.SetDeadline, d.Terminator), nil
}
