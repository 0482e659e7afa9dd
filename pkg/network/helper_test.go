package network

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/timefuse/timefuse-go/pkg/wire"
	"github.com/timefuse/timefuse-go/pkg/wire/command"
)

func testServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1",
		Port:         0,
		UserAgent:    "/TIMEFUSE-GO:test/",
		PairInterval: 10 * time.Millisecond,
		DialTimeout:  2 * time.Second,
		MaxLineSize:  wire.MaxLineSize,
	}
}

func startTestServer(t *testing.T, cfg ServerConfig) *Server {
	s, err := NewServer(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Shutdown)
	return s
}

// testPeer is one scripted remote side, client or worker.
type testPeer struct {
	t    *testing.T
	conn net.Conn
	ep   *wire.Endpoint
}

func dialPeer(t *testing.T, addr string, greeting wire.Message) *testPeer {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ep := wire.NewEndpoint(conn)
	require.NoError(t, ep.WriteMessage(greeting))
	return &testPeer{t: t, conn: conn, ep: ep}
}

func (p *testPeer) readMessage(timeout time.Duration) (wire.Message, error) {
	p.conn.SetReadDeadline(time.Now().Add(timeout))
	return p.ep.ReadMessage()
}

// requirePairInfo reads one message and requires it to be a well-formed
// PAIR_INFO, returning the advertised host and port.
func (p *testPeer) requirePairInfo(timeout time.Duration) (string, string) {
	m, err := p.readMessage(timeout)
	require.NoError(p.t, err)
	require.Equal(p.t, command.PairInfo, m.Command)
	require.Len(p.t, m.Args, 2)
	return m.Args[0], m.Args[1]
}

// newTestConn builds an unregistered connection over one half of a
// pipe. Pipe addresses are all alike, so identity is explicit.
func newTestConn(nc net.Conn, hostID string, role Role, dialPort uint16) *Conn {
	c := newConn(nc, wire.NewEndpoint(nc), role, dialPort)
	c.hostID = hostID
	return c
}

// collectLines reads lines from nc until it closes, handing them out
// on the returned channel.
func collectLines(nc net.Conn) <-chan string {
	ch := make(chan string, 16)
	go func() {
		defer close(ch)
		r := wire.NewLineReader(nc)
		for {
			line, err := r.ReadLine()
			if err != nil {
				return
			}
			ch <- line
		}
	}()
	return ch
}
