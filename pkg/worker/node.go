// Package worker drives one job-serving node: enlist with the master,
// wait for a client address, serve that client's requests, start over.
package worker

import (
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	dispatcher "github.com/timefuse/timefuse-go/pkg/command"
	"github.com/timefuse/timefuse-go/pkg/config"
	"github.com/timefuse/timefuse-go/pkg/wire"
	"github.com/timefuse/timefuse-go/pkg/wire/command"
)

// Config holds the node settings.
type Config struct {
	// MasterAddress is the host:port of the pairing master.
	MasterAddress string

	// LocalAddress optionally pins the local end of outbound dials,
	// empty picks an ephemeral one.
	LocalAddress string

	// DialTimeout bounds dials, single reads and single writes.
	DialTimeout time.Duration

	// RetryInterval is the pause before re-dialing an unreachable
	// master.
	RetryInterval time.Duration
}

// NewConfig creates a new Config struct using the main applications
// config.
func NewConfig(cfg config.Config) Config {
	workerConfig := cfg.WorkerConfiguration
	dialTimeout := workerConfig.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = config.DefaultDialTimeout
	}
	retryInterval := workerConfig.RetryInterval
	if retryInterval <= 0 {
		retryInterval = config.DefaultRetryInterval
	}
	return Config{
		MasterAddress: net.JoinHostPort(workerConfig.MasterAddress,
			strconv.FormatUint(uint64(workerConfig.MasterPort), 10)),
		DialTimeout:   time.Duration(dialTimeout) * time.Millisecond,
		RetryInterval: time.Duration(retryInterval) * time.Millisecond,
	}
}

// Node is the worker's state machine. One goroutine owns it end to
// end; Stop is the only concurrent entry point.
type Node struct {
	// Config holds the Node configuration.
	Config

	log        *zap.Logger
	dispatcher *dispatcher.Dispatcher
	localAddr  net.Addr

	state *atomic.Int32
	stop  *atomic.Bool
	quit  chan struct{}

	master   net.Conn
	masterEP *wire.Endpoint
	client   net.Conn
	clientEP *wire.Endpoint

	// jobAddr is the client address carried by the last pair info.
	jobAddr string
}

var errInvalidLog = errors.New("logger is a required parameter")

// NewNode returns a new Node wired to the given dispatcher.
func NewNode(cfg Config, d *dispatcher.Dispatcher, log *zap.Logger) (*Node, error) {
	if log == nil {
		return nil, errInvalidLog
	}
	var local net.Addr
	if cfg.LocalAddress != "" {
		addr, err := net.ResolveTCPAddr("tcp", cfg.LocalAddress)
		if err != nil {
			return nil, errors.Wrap(err, "invalid local address")
		}
		local = addr
	}
	return &Node{
		Config:     cfg,
		log:        log,
		dispatcher: d,
		localAddr:  local,
		state:      atomic.NewInt32(int32(StateConnectMaster)),
		stop:       atomic.NewBool(false),
		quit:       make(chan struct{}),
	}, nil
}

// Run drives the lifecycle until Stop. It returns nil on a clean stop;
// everything else is retried internally and never surfaces.
func (n *Node) Run() error {
	n.log.Info("worker started", zap.String("master", n.MasterAddress))
	for {
		if n.stopping() {
			n.setState(StateStopped)
			n.closeClient()
			n.closeMaster()
			n.log.Info("worker stopped")
			return nil
		}
		switch n.State() {
		case StateConnectMaster:
			n.setState(n.connectMaster())
		case StateWaitForJob:
			n.setState(n.waitForJob())
		case StateConnectClient:
			n.setState(n.connectClient())
		case StateProcessJob:
			n.setState(n.processJob())
		case StateDisconnectClient:
			n.setState(n.disconnectClient())
		default:
			return nil
		}
	}
}

// Stop flags the node down. Run returns at the next state boundary, a
// blocked read runs out within one timeout.
func (n *Node) Stop() {
	if !n.stop.CompareAndSwap(false, true) {
		return
	}
	n.log.Info("stopping worker")
	close(n.quit)
}

// State returns the node's current lifecycle position.
func (n *Node) State() State {
	return State(n.state.Load())
}

func (n *Node) setState(s State) {
	n.state.Store(int32(s))
	updateStateMetric(s)
}

func (n *Node) stopping() bool {
	return n.stop.Load()
}

// sleep pauses for d or until the node is stopped.
func (n *Node) sleep(d time.Duration) {
	select {
	case <-n.quit:
	case <-time.After(d):
	}
}

func (n *Node) dial(addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: n.DialTimeout, LocalAddr: n.localAddr}
	return d.Dial("tcp", addr)
}

// connectMaster dials the master and enlists for a client. An
// unreachable master costs one retry pause, nothing more.
func (n *Node) connectMaster() State {
	conn, err := n.dial(n.MasterAddress)
	if err != nil {
		n.log.Warn("master unreachable",
			zap.String("addr", n.MasterAddress),
			zap.Error(err))
		n.sleep(n.RetryInterval)
		return StateConnectMaster
	}
	ep := wire.NewEndpoint(conn)
	conn.SetWriteDeadline(time.Now().Add(n.DialTimeout))
	if err := ep.WriteMessage(wire.NewMessage(command.RequestClient)); err != nil {
		n.log.Warn("greeting write failed", zap.Error(err))
		conn.Close()
		n.sleep(n.RetryInterval)
		return StateConnectMaster
	}
	conn.SetWriteDeadline(time.Time{})
	n.master, n.masterEP = conn, ep
	n.log.Info("enlisted with master", zap.String("addr", conn.RemoteAddr().String()))
	return StateWaitForJob
}

// waitForJob reads from the master until a pair info arrives. Reads
// are bounded and re-armed so that a stop is never stuck behind an
// idle socket.
func (n *Node) waitForJob() State {
	for !n.stopping() {
		n.master.SetReadDeadline(time.Now().Add(n.DialTimeout))
		line, err := n.masterEP.ReadLine()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			n.log.Info("master connection lost", zap.Error(err))
			n.closeMaster()
			return StateConnectMaster
		}
		m, err := wire.DecodeMessage(line)
		if err != nil {
			n.log.Debug("malformed line from master", zap.Error(err))
			continue
		}
		switch m.Command {
		case command.PairInfo:
			if len(m.Args) != 2 {
				n.log.Debug("malformed pair info", zap.Strings("args", m.Args))
				continue
			}
			n.jobAddr = net.JoinHostPort(m.Args[0], m.Args[1])
			n.log.Info("job received", zap.String("client", n.jobAddr))
			// One job per enlistment, the master connection has
			// served its purpose.
			n.master.SetWriteDeadline(time.Now().Add(n.DialTimeout))
			_ = n.masterEP.WriteMessage(wire.NewMessage(command.Bye))
			n.closeMaster()
			return StateConnectClient
		case command.PairAbort:
			n.log.Info("pairing aborted by master")
			n.closeMaster()
			return StateConnectMaster
		default:
			n.log.Debug("unexpected message from master",
				zap.String("command", string(m.Command)))
		}
	}
	return StateConnectMaster
}

// connectClient dials the paired client. A dead address abandons the
// pairing, the client may have been handed elsewhere already.
func (n *Node) connectClient() State {
	conn, err := n.dial(n.jobAddr)
	if err != nil {
		n.log.Warn("client unreachable",
			zap.String("addr", n.jobAddr),
			zap.Error(err))
		return StateConnectMaster
	}
	n.client, n.clientEP = conn, wire.NewEndpoint(conn)
	jobsTotal.Inc()
	n.log.Info("serving client", zap.String("addr", conn.RemoteAddr().String()))
	return StateProcessJob
}

// processJob serves request lines until the client leaves. Every line
// gets exactly one response; no request failure ends the session, only
// BYE, EOF or a dead socket does.
func (n *Node) processJob() State {
	for !n.stopping() {
		n.client.SetReadDeadline(time.Now().Add(n.DialTimeout))
		line, err := n.clientEP.ReadLine()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if !errors.Is(err, io.EOF) {
				n.log.Info("client connection lost", zap.Error(err))
			}
			return StateDisconnectClient
		}
		if line == string(command.Bye) {
			n.log.Debug("client said goodbye")
			return StateDisconnectClient
		}
		resp := n.dispatcher.DispatchLine(line)
		commandsTotal.Inc()
		n.client.SetWriteDeadline(time.Now().Add(n.DialTimeout))
		if err := n.clientEP.WriteLine(resp); err != nil {
			n.log.Info("response write failed", zap.Error(err))
			return StateDisconnectClient
		}
	}
	return StateDisconnectClient
}

func (n *Node) disconnectClient() State {
	n.closeClient()
	n.closeMaster()
	return StateConnectMaster
}

func (n *Node) closeMaster() {
	if n.master != nil {
		n.master.Close()
		n.master, n.masterEP = nil, nil
	}
}

func (n *Node) closeClient() {
	if n.client != nil {
		n.client.Close()
		n.client, n.clientEP = nil, nil
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
