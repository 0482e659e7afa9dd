package network

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/timefuse/timefuse-go/pkg/wire"
)

// Role tells which side of a pairing a connection is on.
type Role uint8

// Valid connection roles. A peer greeting REQUEST_CLIENT wants a client
// and is therefore a worker, and the other way around.
const (
	RoleClient Role = iota
	RoleWorker
)

// String implements the fmt.Stringer interface.
func (r Role) String() string {
	if r == RoleWorker {
		return "worker"
	}
	return "client"
}

// Conn is one connection accepted and classified by the master. Two
// connections are considered equal when their host identifiers match.
type Conn struct {
	conn net.Conn
	ep   *wire.Endpoint

	// hostID is the remote host:port of the accepted socket and is the
	// connection's stable identity.
	hostID string
	role   Role
	// dialPort is the listen port the peer advertised in its greeting,
	// 0 when it advertised none.
	dialPort uint16

	dead *atomic.Bool

	mu      sync.Mutex
	session uuid.UUID
}

func newConn(nc net.Conn, ep *wire.Endpoint, role Role, dialPort uint16) *Conn {
	return &Conn{
		conn:     nc,
		ep:       ep,
		hostID:   nc.RemoteAddr().String(),
		role:     role,
		dialPort: dialPort,
		dead:     atomic.NewBool(false),
	}
}

// HostID returns the connection's stable identity.
func (c *Conn) HostID() string { return c.hostID }

// Role returns the connection's role.
func (c *Conn) Role() Role { return c.role }

// Alive reports whether the connection has not been torn down yet.
func (c *Conn) Alive() bool { return !c.dead.Load() }

// markDead flags the connection as torn down. It returns false when
// another path got there first.
func (c *Conn) markDead() bool {
	return c.dead.CompareAndSwap(false, true)
}

// Close closes the underlying socket.
func (c *Conn) Close() {
	c.conn.Close()
}

// DialableAddr returns the host and port a peer should dial to reach
// this connection. The host always comes from the socket; the port is
// the advertised listen port when there is one.
func (c *Conn) DialableAddr() (host, port string) {
	host, port, err := net.SplitHostPort(c.hostID)
	if err != nil {
		host, port = c.hostID, "0"
	}
	if c.dialPort != 0 {
		port = strconv.FormatUint(uint64(c.dialPort), 10)
	}
	return host, port
}

// ReadLine reads the next protocol line from the peer.
func (c *Conn) ReadLine() (string, error) {
	return c.ep.ReadLine()
}

// WriteMessage writes one message, bounded by the given timeout.
func (c *Conn) WriteMessage(m wire.Message, timeout time.Duration) error {
	if timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return c.ep.WriteMessage(m)
}

// attachSession links the connection to a pairing.
func (c *Conn) attachSession(id uuid.UUID) {
	c.mu.Lock()
	c.session = id
	c.mu.Unlock()
}

// detachSession drops the pairing backlink, if any.
func (c *Conn) detachSession() {
	c.mu.Lock()
	c.session = uuid.UUID{}
	c.mu.Unlock()
}

// sessionID returns the current pairing id and whether there is one.
func (c *Conn) sessionID() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.session != uuid.UUID{}
}
