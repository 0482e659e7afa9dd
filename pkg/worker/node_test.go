package worker

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	dispatcher "github.com/timefuse/timefuse-go/pkg/command"
	"github.com/timefuse/timefuse-go/pkg/config"
	"github.com/timefuse/timefuse-go/pkg/database"
	"github.com/timefuse/timefuse-go/pkg/wire"
)

func testListener(t *testing.T) *net.TCPListener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	tln := ln.(*net.TCPListener)
	require.NoError(t, tln.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { tln.Close() })
	return tln
}

// startNode runs a node against the given master address and takes
// care of stopping it. Run must come back nil within one read timeout.
func startNode(t *testing.T, cfg Config, store database.Store) *Node {
	if store == nil {
		store = database.NewMemory()
	}
	log := zaptest.NewLogger(t)
	n, err := NewNode(cfg, dispatcher.NewDispatcher(store, log), log)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- n.Run() }()
	t.Cleanup(func() {
		n.Stop()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
			assert.Equal(t, StateStopped, n.State())
		case <-time.After(5 * time.Second):
			t.Error("worker did not stop in time")
		}
	})
	return n
}

// acceptWorker takes the next connection off the master listener and
// requires the enlist greeting on it.
func acceptWorker(t *testing.T, ln *net.TCPListener) (net.Conn, *wire.LineReader) {
	conn, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	r := wire.NewLineReader(conn)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := r.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "REQUEST_CLIENT", line)
	return conn, r
}

func writeLine(t *testing.T, conn net.Conn, line string) {
	_, err := conn.Write([]byte(line + "\r\n"))
	require.NoError(t, err)
}

func readLine(t *testing.T, r *wire.LineReader) string {
	line, err := r.ReadLine()
	require.NoError(t, err)
	return line
}

func TestWorkerServesClient(t *testing.T) {
	masterLn := testListener(t)
	clientLn := testListener(t)

	store := database.NewMemory()
	require.NoError(t, store.CreateAccount("alice", "secret", "alice@example.com"))
	startNode(t, Config{
		MasterAddress: masterLn.Addr().String(),
		DialTimeout:   time.Second,
		RetryInterval: 10 * time.Millisecond,
	}, store)

	master, masterR := acceptWorker(t, masterLn)
	host, port, err := net.SplitHostPort(clientLn.Addr().String())
	require.NoError(t, err)
	writeLine(t, master, "PAIR_INFO "+host+" "+port)

	// The worker hangs up on the master before taking the job.
	require.NoError(t, master.SetReadDeadline(time.Now().Add(2*time.Second)))
	assert.Equal(t, "BYE", readLine(t, masterR))
	_, err = masterR.ReadLine()
	assert.ErrorIs(t, err, io.EOF)

	client, err := clientLn.Accept()
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	clientR := wire.NewLineReader(client)

	writeLine(t, client, "LOGIN alice secret")
	assert.Equal(t, "OK", readLine(t, clientR))

	writeLine(t, client, "LOGIN alice wrong")
	assert.Equal(t, "FAIL BAD_CREDENTIALS", readLine(t, clientR))

	// A line that does not even decode fails softly and the session
	// carries on.
	writeLine(t, client, "LOGIN alice %zz")
	assert.Equal(t, "FAIL UNKNOWN_VERB", readLine(t, clientR))

	writeLine(t, client, "ACCOUNT_INFO alice")
	assert.Equal(t, "OK alice,alice%40example.com,", readLine(t, clientR))

	// Goodbye sends the worker back in line at the master.
	writeLine(t, client, "BYE")
	_, _ = acceptWorker(t, masterLn)
}

func TestWorkerDisconnectsOnClientEOF(t *testing.T) {
	masterLn := testListener(t)
	clientLn := testListener(t)

	startNode(t, Config{
		MasterAddress: masterLn.Addr().String(),
		DialTimeout:   time.Second,
		RetryInterval: 10 * time.Millisecond,
	}, nil)

	master, _ := acceptWorker(t, masterLn)
	host, port, err := net.SplitHostPort(clientLn.Addr().String())
	require.NoError(t, err)
	writeLine(t, master, "PAIR_INFO "+host+" "+port)

	client, err := clientLn.Accept()
	require.NoError(t, err)
	client.Close()

	// The dead client costs this one job, the worker re-enlists.
	_, _ = acceptWorker(t, masterLn)
}

func TestWorkerPairAbortReenlists(t *testing.T) {
	masterLn := testListener(t)

	startNode(t, Config{
		MasterAddress: masterLn.Addr().String(),
		DialTimeout:   time.Second,
		RetryInterval: 10 * time.Millisecond,
	}, nil)

	master, _ := acceptWorker(t, masterLn)
	writeLine(t, master, "PAIR_ABORT")

	_, _ = acceptWorker(t, masterLn)
}

func TestWorkerAbandonsUnreachableClient(t *testing.T) {
	masterLn := testListener(t)

	// A listener that is gone by the time the worker dials it.
	deadLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := deadLn.Addr().String()
	require.NoError(t, deadLn.Close())

	startNode(t, Config{
		MasterAddress: masterLn.Addr().String(),
		DialTimeout:   time.Second,
		RetryInterval: 10 * time.Millisecond,
	}, nil)

	master, _ := acceptWorker(t, masterLn)
	host, port, err := net.SplitHostPort(deadAddr)
	require.NoError(t, err)
	writeLine(t, master, "PAIR_INFO "+host+" "+port)

	_, _ = acceptWorker(t, masterLn)
}

func TestWorkerMasterLostReenlists(t *testing.T) {
	masterLn := testListener(t)

	startNode(t, Config{
		MasterAddress: masterLn.Addr().String(),
		DialTimeout:   time.Second,
		RetryInterval: 10 * time.Millisecond,
	}, nil)

	master, _ := acceptWorker(t, masterLn)
	master.Close()

	_, _ = acceptWorker(t, masterLn)
}

func TestWorkerRetriesUnreachableMaster(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	n := startNode(t, Config{
		MasterAddress: addr,
		DialTimeout:   200 * time.Millisecond,
		RetryInterval: 10 * time.Millisecond,
	}, nil)

	// A dead master keeps the node in the dial-retry loop, stopping
	// from there must still be clean (the cleanup checks that).
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateConnectMaster, n.State())
}

func TestNewNodeLocalAddress(t *testing.T) {
	log := zaptest.NewLogger(t)
	d := dispatcher.NewDispatcher(database.NewMemory(), log)

	_, err := NewNode(Config{
		MasterAddress: "127.0.0.1:1",
		LocalAddress:  "not:a:valid:addr",
		DialTimeout:   time.Second,
		RetryInterval: time.Second,
	}, d, log)
	require.Error(t, err)

	n, err := NewNode(Config{
		MasterAddress: "127.0.0.1:1",
		LocalAddress:  "127.0.0.1:0",
		DialTimeout:   time.Second,
		RetryInterval: time.Second,
	}, d, log)
	require.NoError(t, err)
	assert.NotNil(t, n.localAddr)

	_, err = NewNode(Config{MasterAddress: "127.0.0.1:1"}, d, nil)
	require.Error(t, err)
}

func TestNewConfig(t *testing.T) {
	c := NewConfig(config.Config{
		WorkerConfiguration: config.WorkerConfiguration{
			MasterAddress: "master1",
			MasterPort:    3224,
		},
	})
	assert.Equal(t, "master1:3224", c.MasterAddress)
	assert.Equal(t, 5*time.Second, c.DialTimeout)
	assert.Equal(t, 400*time.Millisecond, c.RetryInterval)

	c = NewConfig(config.Config{
		WorkerConfiguration: config.WorkerConfiguration{
			MasterAddress: "master1",
			MasterPort:    4000,
			DialTimeout:   1200,
			RetryInterval: 50,
		},
	})
	assert.Equal(t, "master1:4000", c.MasterAddress)
	assert.Equal(t, 1200*time.Millisecond, c.DialTimeout)
	assert.Equal(t, 50*time.Millisecond, c.RetryInterval)
}
