package instrument

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

const defaultBaudRate = 9600

var errReadTimeout = errors.New("serial read timed out")

// serialConn turns go.bug.st/serial's (0, nil) timeout reads into errors so
// bufio does not spin.
type serialConn struct {
	serial.Port
}

func (c serialConn) Read(p []byte) (int, error) {
	n, err := c.Port.Read(p)
	if n == 0 && err == nil {
		return 0, errReadTimeout
	}
	return n, err
}

func (c serialConn) setDeadline(deadline time.Time) error {
	timeout := time.Until(deadline)
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	return c.Port.SetReadTimeout(timeout)
}

func (d *Dialer) dialSerial(u *url.URL) (Transport, error) {
	portName := u.Host
	if portName == "" {
		portName = u.Path
	}
	if portName == "" {
		return nil, fmt.Errorf("instrument: serial address %q has no port", u.String())
	}

	mode, err := serialMode(u.Query())
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("instrument: open %s: %w", portName, err)
	}

	conn := serialConn{Port: port}
	terminator := d.Terminator
	if terminator == "" {
		terminator = "\r\n"
	}
	return newLineTransport(conn, conn.setDeadline, terminator), nil
}

func (d *Dialer) serialPorts() ([]string, error) {
	if d.SerialPorts != nil {
		return d.SerialPorts()
	}
	return serial.GetPortsList()
}

// serialMode reads baud and parity from the address query. The 34970A supports
// 8N1 and 7E1/7O1 framings.
func serialMode(query url.Values) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: defaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	if raw := query.Get("baud"); raw != "" {
		baud, err := strconv.Atoi(raw)
		if err != nil || baud <= 0 {
			return nil, fmt.Errorf("instrument: invalid baud %q", raw)
		}
		mode.BaudRate = baud
	}

	switch strings.ToLower(query.Get("parity")) {
	case "", "none":
	case "even":
		mode.Parity = serial.EvenParity
		mode.DataBits = 7
	case "odd":
		mode.Parity = serial.OddParity
		mode.DataBits = 7
	default:
		return nil, fmt.Errorf("instrument: invalid parity %q", query.Get("parity"))
	}

	return mode, nil
}
