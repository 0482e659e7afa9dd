package network

import (
	"net"
	"regexp"
	"sync"

	"go.uber.org/zap"
)

// Transporter is an interface that allows us to abstract
// any form of communication between the server and its peers.
type Transporter interface {
	Bind() error
	Accept()
	Proto() string
	Address() string
	Close()
}

// TCPTransport allows network communication over TCP.
type TCPTransport struct {
	log      *zap.Logger
	server   *Server
	listener net.Listener
	bindAddr string
	lock     sync.RWMutex
}

var reClosedNetwork = regexp.MustCompile(".* use of closed network connection")

// NewTCPTransport returns a new TCPTransport that will listen for
// new incoming peer connections.
func NewTCPTransport(s *Server, bindAddr string, log *zap.Logger) *TCPTransport {
	return &TCPTransport{
		log:      log,
		server:   s,
		bindAddr: bindAddr,
	}
}

// Bind implements the Transporter interface.
func (t *TCPTransport) Bind() error {
	l, err := net.Listen("tcp", t.bindAddr)
	if err != nil {
		return err
	}
	t.lock.Lock()
	t.listener = l
	t.lock.Unlock()
	return nil
}

// Accept implements the Transporter interface.
func (t *TCPTransport) Accept() {
	t.lock.RLock()
	l := t.listener
	t.lock.RUnlock()
	if l == nil {
		t.log.Panic("TCP transport is not bound")
		return
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			if t.isCloseError(err) {
				break
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				t.log.Warn("TCP accept error", zap.Error(err))
				continue
			}
			t.log.Error("TCP listener failed", zap.Error(err))
			t.server.fatal(err)
			break
		}
		go t.server.serveConn(conn)
	}
}

func (t *TCPTransport) isCloseError(err error) bool {
	if opErr, ok := err.(*net.OpError); ok {
		if reClosedNetwork.Match([]byte(opErr.Error())) {
			return true
		}
	}

	return false
}

// Close implements the Transporter interface.
func (t *TCPTransport) Close() {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if t.listener != nil {
		t.listener.Close()
	}
}

// Proto implements the Transporter interface.
func (t *TCPTransport) Proto() string {
	return "tcp"
}

// Address implements the Transporter interface.
func (t *TCPTransport) Address() string {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return ""
}
