package network

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/timefuse/timefuse-go/pkg/wire"
	"github.com/timefuse/timefuse-go/pkg/wire/command"
)

type (
	// Server classifies inbound connections into clients and workers
	// and pairs them one to one, first come first served. Once both
	// halves of a pair hold the peer's address the server steps out of
	// the data path.
	Server struct {
		// ServerConfig holds the Server configuration.
		ServerConfig

		log       *zap.Logger
		transport Transporter
		clients   *IntakeQueue
		workers   *IntakeQueue
		inbox     *Inbox
		sessions  *sessionMap

		// conns holds every registered connection. Only the run loop
		// touches it until the loops have stopped.
		conns map[*Conn]bool

		register   chan *Conn
		unregister chan connDrop
		quit       chan struct{}
		loopDone   chan struct{}
		pairDone   chan struct{}
		fatalCh    chan error

		pairCtx    context.Context
		pairCancel context.CancelFunc

		started *atomic.Bool
	}

	connDrop struct {
		conn   *Conn
		reason error
	}
)

var errInvalidLog = errors.New("logger is a required parameter")

// NewServer returns a new Server, initialized and ready for action.
func NewServer(cfg ServerConfig, log *zap.Logger) (*Server, error) {
	if log == nil {
		return nil, errInvalidLog
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		ServerConfig: cfg,
		log:          log,
		clients:      NewIntakeQueue(RoleClient, updateClientsQueuedMetric),
		workers:      NewIntakeQueue(RoleWorker, updateWorkersQueuedMetric),
		inbox:        NewInbox(),
		sessions:     newSessionMap(),
		conns:        make(map[*Conn]bool),
		register:     make(chan *Conn),
		unregister:   make(chan connDrop),
		quit:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		pairDone:     make(chan struct{}),
		fatalCh:      make(chan error, 1),
		pairCtx:      ctx,
		pairCancel:   cancel,
		started:      atomic.NewBool(false),
	}
	s.transport = NewTCPTransport(s, cfg.BindAddress(), log)
	return s, nil
}

// Start binds the listener and runs the accept, dispatch and pairing
// loops. A bind failure is returned to the caller, everything after
// that is non-fatal to the server.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("server already started")
	}
	if err := s.transport.Bind(); err != nil {
		return err
	}
	s.log.Info("server started",
		zap.String("addr", s.transport.Address()),
		zap.String("userAgent", s.UserAgent))
	go s.transport.Accept()
	go s.run()
	go s.pairing()
	return nil
}

// Shutdown closes the listener, stops both loops and disconnects every
// registered connection.
func (s *Server) Shutdown() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	s.log.Info("shutting down server", zap.String("addr", s.transport.Address()))
	s.transport.Close()
	s.pairCancel()
	close(s.quit)
	<-s.loopDone
	<-s.pairDone
	// The loops are gone, nothing else touches the map now. Closing
	// the sockets unblocks the remaining reader goroutines, which see
	// the closed quit channel and exit.
	for c := range s.conns {
		c.Close()
	}
	s.log.Info("server shut down")
}

// Addr returns the listener address, empty until Start.
func (s *Server) Addr() string {
	return s.transport.Address()
}

// Err reports a collapsed listener. The server does not terminate on
// its own; the owner decides.
func (s *Server) Err() <-chan error {
	return s.fatalCh
}

// QueueLens returns the current intake queue lengths, clients first.
func (s *Server) QueueLens() (int, int) {
	return s.clients.Len(), s.workers.Len()
}

// Inbox returns the buffer of inbound lines that no handler consumed.
func (s *Server) Inbox() *Inbox {
	return s.inbox
}

func (s *Server) fatal(err error) {
	select {
	case s.fatalCh <- err:
	default:
	}
}

// serveConn reads the greeting line off a fresh socket, classifies the
// peer and registers it. Anything that is not a valid greeting closes
// the socket; a lost connection is never fatal to the server.
func (s *Server) serveConn(nc net.Conn) {
	nc.SetReadDeadline(time.Now().Add(s.DialTimeout))
	ep := wire.NewEndpointSize(nc, s.MaxLineSize)

	line, err := ep.ReadLine()
	if err != nil {
		s.log.Debug("greeting read failed",
			zap.String("addr", nc.RemoteAddr().String()),
			zap.Error(err))
		nc.Close()
		return
	}
	m, err := wire.DecodeMessage(line)
	if err != nil {
		s.log.Debug("malformed greeting",
			zap.String("addr", nc.RemoteAddr().String()),
			zap.Error(err))
		nc.Close()
		return
	}

	var role Role
	switch m.Command {
	case command.RequestClient:
		role = RoleWorker
	case command.RequestWorker:
		role = RoleClient
	default:
		s.log.Debug("unexpected greeting",
			zap.String("addr", nc.RemoteAddr().String()),
			zap.String("command", string(m.Command)))
		nc.Close()
		return
	}

	// The greeting may advertise the sender's own listen port, the
	// address handed to its pair falls back to the socket's remote
	// port without it.
	var dialPort uint16
	if len(m.Args) > 0 {
		if p, err := strconv.ParseUint(m.Args[0], 10, 16); err == nil {
			dialPort = uint16(p)
		}
	}

	nc.SetReadDeadline(time.Time{})
	c := newConn(nc, ep, role, dialPort)
	select {
	case s.register <- c:
	case <-s.quit:
		nc.Close()
		return
	}
	s.readLoop(c)
}

// readLoop keeps draining the socket of a registered connection. It
// exists to observe disconnects; lines nobody handles are buffered in
// the inbox for late consumers.
func (s *Server) readLoop(c *Conn) {
	var reason error
	for {
		line, err := c.ReadLine()
		if err != nil {
			reason = err
			break
		}
		m, err := wire.DecodeMessage(line)
		if err != nil {
			s.log.Debug("malformed line", zap.String("addr", c.HostID()), zap.Error(err))
			continue
		}
		if m.Command == command.Bye {
			break
		}
		s.inbox.Push(c.HostID(), line)
	}
	select {
	case s.unregister <- connDrop{conn: c, reason: reason}:
	case <-s.quit:
		c.Close()
	}
}

// run is the I/O dispatch loop. All queue bookkeeping funnels through
// it, keeping enqueue order equal to accept observation order.
func (s *Server) run() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.quit:
			return
		case c := <-s.register:
			s.conns[c] = true
			s.queueFor(c.Role()).Put(c)
			s.log.Info("connection registered",
				zap.String("addr", c.HostID()),
				zap.Stringer("role", c.Role()))
		case drop := <-s.unregister:
			s.dropConn(drop.conn, drop.reason)
		}
	}
}

func (s *Server) queueFor(r Role) *IntakeQueue {
	if r == RoleWorker {
		return s.workers
	}
	return s.clients
}

// dropConn tears one connection down: socket closed, queue slot
// reclaimed, session forgotten. The paired peer is left alone, its own
// socket-closure is the sole trigger for freeing it. Must only be
// called from the run loop.
func (s *Server) dropConn(c *Conn, reason error) {
	delete(s.conns, c)
	if !c.markDead() {
		return
	}
	c.Close()
	s.queueFor(c.Role()).Remove(c)
	if id, ok := c.sessionID(); ok {
		c.detachSession()
		if sess, ok := s.sessions.remove(id); ok {
			sess.Peer(c).detachSession()
			updateSessionsMetric(s.sessions.len())
		}
	}
	s.log.Info("connection closed",
		zap.String("addr", c.HostID()),
		zap.Stringer("role", c.Role()),
		zap.Error(reason))
}

// requestDrop hands a connection to the run loop for teardown. Used by
// the pairing loop, which must not touch run loop state itself.
func (s *Server) requestDrop(c *Conn, reason error) {
	select {
	case s.unregister <- connDrop{conn: c, reason: reason}:
	case <-s.quit:
		c.Close()
	}
}

// pairing is the matching loop. It blocks only on the queue semaphores
// and the inter-poll sleep; every failure is non-fatal and the loop
// terminates only on shutdown.
func (s *Server) pairing() {
	defer close(s.pairDone)
	for {
		select {
		case <-s.quit:
			return
		default:
		}

		if s.clients.Len() == 0 || s.workers.Len() == 0 {
			select {
			case <-s.quit:
				return
			case <-time.After(s.PairInterval):
			}
			continue
		}

		client := s.takeLive(s.clients)
		if client == nil {
			return
		}
		worker := s.takeLive(s.workers)
		if worker == nil {
			return
		}
		// The client sat outside any queue while we waited on the
		// worker side and may have died there.
		if !client.Alive() {
			s.workers.PutFront(worker)
			continue
		}
		s.pair(client, worker)
	}
}

// takeLive dequeues the next live connection, silently skipping
// entries whose socket closed between enqueue and dequeue. A skipped
// entry consumes nothing from the other side. Returns nil on shutdown.
func (s *Server) takeLive(q *IntakeQueue) *Conn {
	for {
		c, err := q.Take(s.pairCtx)
		if err != nil {
			return nil
		}
		if c == nil {
			// Removed concurrently, the permit was ours to burn.
			continue
		}
		if !c.Alive() {
			s.log.Debug("skipping dead queue entry",
				zap.String("addr", c.HostID()),
				zap.Stringer("role", c.Role()))
			continue
		}
		return c
	}
}

// pair installs the session and emits PAIR_INFO to both sides, worker
// first. A failed write to the worker costs only the worker, the
// client keeps its place in line. A failed write to the client aborts
// the worker too, it already holds a stale address.
func (s *Server) pair(client, worker *Conn) {
	sess := newSession(client, worker)
	client.attachSession(sess.ID)
	worker.attachSession(sess.ID)
	s.sessions.add(sess)
	updateSessionsMetric(s.sessions.len())

	clientHost, clientPort := client.DialableAddr()
	workerHost, workerPort := worker.DialableAddr()

	if err := worker.WriteMessage(wire.NewMessage(command.PairInfo, clientHost, clientPort), s.DialTimeout); err != nil {
		s.log.Warn("pair info write to worker failed",
			zap.String("worker", worker.HostID()),
			zap.Error(err))
		s.unpair(sess)
		s.requestDrop(worker, err)
		s.clients.PutFront(client)
		pairAbortsTotal.Inc()
		return
	}
	if err := client.WriteMessage(wire.NewMessage(command.PairInfo, workerHost, workerPort), s.DialTimeout); err != nil {
		s.log.Warn("pair info write to client failed",
			zap.String("client", client.HostID()),
			zap.Error(err))
		s.unpair(sess)
		if abortErr := worker.WriteMessage(wire.NewMessage(command.PairAbort), s.DialTimeout); abortErr != nil {
			s.log.Debug("pair abort write failed",
				zap.String("worker", worker.HostID()),
				zap.Error(abortErr))
		}
		s.requestDrop(worker, err)
		s.requestDrop(client, err)
		pairAbortsTotal.Inc()
		return
	}

	pairsTotal.Inc()
	s.log.Info("paired",
		zap.Stringer("session", sess.ID),
		zap.String("client", client.HostID()),
		zap.String("worker", worker.HostID()))
}

func (s *Server) unpair(sess *Session) {
	sess.Client.detachSession()
	sess.Worker.detachSession()
	s.sessions.remove(sess.ID)
	updateSessionsMetric(s.sessions.len())
}
