package network

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/timefuse/timefuse-go/pkg/wire"
	"github.com/timefuse/timefuse-go/pkg/wire/command"
)

func waitQueueLens(t *testing.T, s *Server, clients, workers int) {
	require.Eventually(t, func() bool {
		c, w := s.QueueLens()
		return c == clients && w == workers
	}, time.Second, 5*time.Millisecond)
}

func TestServerPairsClientAndWorker(t *testing.T) {
	s := startTestServer(t, testServerConfig())

	client := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestWorker, "7010"))
	worker := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestClient))

	// The worker gets the client's advertised listen port.
	host, port := worker.requirePairInfo(time.Second)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, "7010", port)

	// The client gets the worker's socket address, no port was
	// advertised.
	wantHost, wantPort, err := net.SplitHostPort(worker.conn.LocalAddr().String())
	require.NoError(t, err)
	host, port = client.requirePairInfo(time.Second)
	assert.Equal(t, wantHost, host)
	assert.Equal(t, wantPort, port)

	waitQueueLens(t, s, 0, 0)
}

func TestServerPairsInArrivalOrder(t *testing.T) {
	s := startTestServer(t, testServerConfig())

	c1 := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestWorker, "7001"))
	waitQueueLens(t, s, 1, 0)
	c2 := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestWorker, "7002"))
	waitQueueLens(t, s, 2, 0)

	w1 := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestClient))
	_, port := w1.requirePairInfo(time.Second)
	assert.Equal(t, "7001", port, "first worker gets the first client")

	w2 := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestClient))
	_, port = w2.requirePairInfo(time.Second)
	assert.Equal(t, "7002", port, "second worker gets the second client")

	c1.requirePairInfo(time.Second)
	c2.requirePairInfo(time.Second)
}

func TestServerQueuesClientsWithoutWorker(t *testing.T) {
	s := startTestServer(t, testServerConfig())

	c1 := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestWorker, "7001"))
	c2 := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestWorker, "7002"))
	waitQueueLens(t, s, 2, 0)

	// Nothing to pair with, nothing may be sent.
	_, err := c1.readMessage(150 * time.Millisecond)
	var nerr net.Error
	require.ErrorAs(t, err, &nerr)
	require.True(t, nerr.Timeout())

	w := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestClient))
	_, port := w.requirePairInfo(time.Second)
	assert.Equal(t, "7001", port, "the longest-waiting client goes first")
	waitQueueLens(t, s, 1, 0)

	c1.requirePairInfo(time.Second)
	_ = c2
}

func TestServerDropsDisconnectedClient(t *testing.T) {
	s := startTestServer(t, testServerConfig())

	c1 := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestWorker, "7001"))
	waitQueueLens(t, s, 1, 0)
	c1.conn.Close()
	waitQueueLens(t, s, 0, 0)

	c2 := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestWorker, "7002"))
	w := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestClient))

	_, port := w.requirePairInfo(time.Second)
	assert.Equal(t, "7002", port, "dead client never reaches a worker")
	c2.requirePairInfo(time.Second)
}

func TestServerDropsWorkerOnBye(t *testing.T) {
	s := startTestServer(t, testServerConfig())

	w := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestClient))
	waitQueueLens(t, s, 0, 1)

	require.NoError(t, w.ep.WriteMessage(wire.NewMessage(command.Bye)))
	waitQueueLens(t, s, 0, 0)

	w.conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := w.ep.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestServerRejectsUnknownGreeting(t *testing.T) {
	s := startTestServer(t, testServerConfig())

	conn, err := net.DialTimeout("tcp", s.Addr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("HELLO THERE\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	c, w := s.QueueLens()
	assert.Zero(t, c)
	assert.Zero(t, w)
}

func TestServerClosesSilentConnection(t *testing.T) {
	cfg := testServerConfig()
	cfg.DialTimeout = 100 * time.Millisecond
	s := startTestServer(t, cfg)

	conn, err := net.DialTimeout("tcp", s.Addr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	// No greeting within the dial timeout, the server hangs up.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestServerBuffersStrayLines(t *testing.T) {
	s := startTestServer(t, testServerConfig())

	c := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestWorker))
	waitQueueLens(t, s, 1, 0)

	require.NoError(t, c.ep.WriteLine("PING alpha"))
	require.Eventually(t, func() bool {
		return s.Inbox().Depth() == 1
	}, time.Second, 5*time.Millisecond)

	m, ok := s.Inbox().PopByOrigin(c.conn.LocalAddr().String())
	require.True(t, ok)
	assert.Equal(t, "PING alpha", m.Line)
}

func TestServerShutdownClosesConnections(t *testing.T) {
	s := startTestServer(t, testServerConfig())

	c1 := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestWorker, "7001"))
	c2 := dialPeer(t, s.Addr(), wire.NewMessage(command.RequestWorker, "7002"))
	waitQueueLens(t, s, 2, 0)

	s.Shutdown()

	for _, p := range []*testPeer{c1, c2} {
		p.conn.SetReadDeadline(time.Now().Add(time.Second))
		_, err := p.ep.ReadLine()
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestServerStartTwice(t *testing.T) {
	s := startTestServer(t, testServerConfig())
	assert.Error(t, s.Start())
}

// newPairTestServer runs only the dispatch loop so pair can be driven
// directly with hand-built connections.
func newPairTestServer(t *testing.T) *Server {
	s, err := NewServer(testServerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	go s.run()
	t.Cleanup(func() {
		s.pairCancel()
		close(s.quit)
		<-s.loopDone
	})
	return s
}

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestServerPairAbortOnWorkerWriteFailure(t *testing.T) {
	s := newPairTestServer(t)

	masterToWorker, workerEnd := pipePair(t)
	masterToClient, clientEnd := pipePair(t)
	worker := newTestConn(masterToWorker, "192.0.2.10:50001", RoleWorker, 0)
	client := newTestConn(masterToClient, "192.0.2.20:50002", RoleClient, 7010)

	// The worker is gone before the pair info reaches it.
	workerEnd.Close()
	clientLines := collectLines(clientEnd)

	s.pair(client, worker)

	assert.True(t, client.Alive(), "client survives a worker-side failure")
	assert.Equal(t, 1, s.clients.Len(), "client is back at the head of the line")
	assert.Equal(t, 0, s.sessions.len())
	require.Eventually(t, func() bool {
		return !worker.Alive()
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	select {
	case line := <-clientLines:
		t.Fatalf("client unexpectedly received %q", line)
	default:
	}
}

func TestServerPairAbortOnClientWriteFailure(t *testing.T) {
	s := newPairTestServer(t)

	masterToWorker, workerEnd := pipePair(t)
	masterToClient, clientEnd := pipePair(t)
	worker := newTestConn(masterToWorker, "192.0.2.10:50001", RoleWorker, 0)
	client := newTestConn(masterToClient, "192.0.2.20:50002", RoleClient, 7010)

	// The client is gone, the worker already holds a stale address and
	// must be told to forget it.
	clientEnd.Close()
	workerLines := collectLines(workerEnd)

	s.pair(client, worker)

	require.Eventually(t, func() bool {
		return !worker.Alive() && !client.Alive()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.clients.Len())
	assert.Equal(t, 0, s.workers.Len())
	assert.Equal(t, 0, s.sessions.len())

	var lines []string
	for line := range workerLines {
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "PAIR_INFO 192.0.2.20 7010", lines[0])
	assert.Equal(t, "PAIR_ABORT", lines[1])
}

func TestServerTakeLiveSkipsDeadEntries(t *testing.T) {
	s, err := NewServer(testServerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(s.pairCancel)

	dead := queuedConn("192.0.2.1:1")
	dead.markDead()
	live := queuedConn("192.0.2.2:2")
	s.clients.Put(dead)
	s.clients.Put(live)

	got := s.takeLive(s.clients)
	assert.Same(t, live, got)
	assert.Equal(t, 0, s.clients.Len())
}

func TestServerTakeLiveShutdown(t *testing.T) {
	s, err := NewServer(testServerConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	s.pairCancel()
	assert.Nil(t, s.takeLive(s.clients))
}
