package instrument

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scpiServer answers *IDN? and echoes nothing for writes.
func scpiServer(t *testing.T, conn net.Conn, replies map[string]string) {
	t.Helper()
	go func() {
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimSpace(line)
			if reply, ok := replies[cmd]; ok {
				if _, err := conn.Write([]byte(reply + "\r\n")); err != nil {
					return
				}
			}
		}
	}()
}

func TestLineTransportQuery(t *testing.T) {
	client, server := net.Pipe()
	scpiServer(t, server, map[string]string{"*IDN?": "HEWLETT-PACKARD,34970A,0,13-2-2"})

	transport := newLineTransport(client, client.SetDeadline, "")
	defer transport.Close()

	reply, err := transport.Query(context.Background(), "*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "HEWLETT-PACKARD,34970A,0,13-2-2", reply)
}

func TestLineTransportQueryTimesOut(t *testing.T) {
	client, server := net.Pipe()
	scpiServer(t, server, nil)

	transport := newLineTransport(client, client.SetDeadline, "")
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := transport.Query(ctx, "FETC?")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLineTransportRefusesQueriesAfterTimeout(t *testing.T) {
	client, server := net.Pipe()
	scpiServer(t, server, map[string]string{"*IDN?": "HEWLETT-PACKARD,34970A,0,13-2-2"})

	transport := newLineTransport(client, client.SetDeadline, "")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := transport.Query(ctx, "FETC?")
	require.Error(t, err)

	_, err = transport.Query(context.Background(), "*IDN?")
	assert.ErrorIs(t, err, ErrTransportBroken)
	assert.ErrorIs(t, transport.Write(context.Background(), "INIT"), ErrTransportBroken)
	assert.NoError(t, transport.Close())
}

func TestLineTransportCancelledContext(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	transport := newLineTransport(client, client.SetDeadline, "")
	defer transport.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, transport.Write(ctx, "INIT"), context.Canceled)
}

func TestDialerTCP(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		scpiServer(t, conn, map[string]string{"*IDN?": "HEWLETT-PACKARD,34970A,0,13-2-2"})
	}()

	dialer := &Dialer{}
	transport, err := dialer.Dial(context.Background(), "tcp://"+listener.Addr().String())
	require.NoError(t, err)
	defer transport.Close()

	reply, err := transport.Query(context.Background(), "*IDN?")
	require.NoError(t, err)
	assert.Contains(t, reply, "34970A")
}

func TestDialerCandidatesExpandsSerialAuto(t *testing.T) {
	dialer := &Dialer{SerialPorts: func() ([]string, error) {
		return []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, nil
	}}

	candidates, err := dialer.Candidates([]string{"tcp://10.0.0.5:5025", " ", "serial://auto?baud=19200"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"tcp://10.0.0.5:5025",
		"serial:///dev/ttyUSB0?baud=19200",
		"serial:///dev/ttyUSB1?baud=19200",
	}, candidates)
}

func TestDialerRejectsUnknownScheme(t *testing.T) {
	dialer := &Dialer{}
	_, err := dialer.Dial(context.Background(), "gpib://7")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestDialerSimulator(t *testing.T) {
	dialer := &Dialer{}
	transport, err := dialer.Dial(context.Background(), "sim://")
	require.NoError(t, err)

	reply, err := transport.Query(context.Background(), "*IDN?")
	require.NoError(t, err)
	assert.Contains(t, reply, DefaultModel)
}

func TestSerialMode(t *testing.T) {
	mode, err := serialMode(map[string][]string{"baud": {"19200"}, "parity": {"even"}})
	require.NoError(t, err)
	assert.Equal(t, 19200, mode.BaudRate)
	assert.Equal(t, 7, mode.DataBits)

	_, err = serialMode(map[string][]string{"baud": {"fast"}})
	assert.Error(t, err)
}
