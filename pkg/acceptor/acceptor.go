// Package acceptor implements C4: the listener bound to a well-known
// port that performs the server side of the handshake and mints
// Connections bound to their own dedicated ports (spec §4.4).
package acceptor

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"rudp/pkg/bitio"
	"rudp/pkg/conn"
	"rudp/pkg/framing"
	"rudp/pkg/logger"
	"rudp/pkg/transport"
)

// HandleConnection is called once per accepted Connection, already live
// and in the Connected state. The returned hooks are bound to the
// Connection immediately — this is the Go-idiomatic stand-in for the
// original design's per-instance abstract HandleConnected/HandleDisconnect
// /HandlePacket methods (spec §9).
type HandleConnection func(c *conn.Connection) transport.ConnHooks

// Acceptor is the listener described by spec component C4.
type Acceptor struct {
	host       string
	port       int
	maxClients int
	factory    transport.PacketFactory
	onAccept   HandleConnection
	connOpts   []conn.Option
	log        *logger.Logger

	socket  *net.UDPConn
	running int32

	ports chan int

	pending *pendingTable

	connMu sync.RWMutex
	conns  map[string]*conn.Connection

	sendMu    sync.Mutex
	sending   bool
	sendQueue []framedSend

	stopCh chan struct{}
	doneCh chan struct{}
}

type framedSend struct {
	data []byte
	to   *net.UDPAddr
}

// New constructs an Acceptor bound to host:port with a pool of maxClients
// ports drawn from [port+1, port+maxClients] (spec §4.4).
func New(host string, port, maxClients int, factory transport.PacketFactory, onAccept HandleConnection, connOpts ...conn.Option) *Acceptor {
	a := &Acceptor{
		host:       host,
		port:       port,
		maxClients: maxClients,
		factory:    factory,
		onAccept:   onAccept,
		connOpts:   connOpts,
		log:        logger.With("role", "acceptor", "port", port),
		ports:      make(chan int, maxClients),
		pending:    newPendingTable(),
		conns:      make(map[string]*conn.Connection),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for p := port + 1; p <= port+maxClients; p++ {
		a.ports <- p
	}
	return a
}

// Start binds the well-known port and begins serving the handshake
// protocol (spec §4.4, grounded on the teacher's Server.Start/listen).
func (a *Acceptor) Start() error {
	addr := &net.UDPAddr{IP: net.ParseIP(a.host), Port: a.port}
	socket, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("acceptor: failed to bind %s: %w", addr, err)
	}
	a.socket = socket
	atomic.StoreInt32(&a.running, 1)
	a.log.Info("listening on %s, %d ports available", addr, a.maxClients)
	go a.listen()
	return nil
}

func (a *Acceptor) listen() {
	defer close(a.doneCh)
	buf := make([]byte, 2048)
	for atomic.LoadInt32(&a.running) == 1 {
		n, from, err := a.socket.ReadFromUDP(buf)
		if err != nil {
			if atomic.LoadInt32(&a.running) == 0 {
				return
			}
			a.log.Warn("listener read failed: %v", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		go a.dispatch(data, from)
	}
}

func (a *Acceptor) dispatch(data []byte, from *net.UDPAddr) {
	r := bitio.NewReader(data)
	hdr, err := framing.DecodeHeader(r)
	if err != nil || !hdr.IsControl {
		a.log.Debug("dropping non-control datagram from %s", from)
		return
	}
	switch hdr.ControlType {
	case framing.ControlConnect:
		a.handleConnect(r, from)
	case framing.ControlSolution:
		a.handleSolution(r, from)
	default:
		// Challenge/Connected/Disconnect addressed to the listener's own
		// port are stray; only Connections answer those (spec §4.4 "the
		// listener itself answers only control packets" for Connect and
		// Solution).
	}
}

// Stop closes the listening socket, drains pending handshakes, and
// notifies every live Connection with a ServerShutdown disconnect (spec
// §9: the source's listener stop was a no-op; a correct implementation
// closes the socket, drains pending handshakes, and notifies active
// Connections).
func (a *Acceptor) Stop() {
	if !atomic.CompareAndSwapInt32(&a.running, 1, 0) {
		return
	}
	if a.socket != nil {
		a.socket.Close()
	}
	<-a.doneCh

	a.pending.clear()

	a.connMu.Lock()
	live := make([]*conn.Connection, 0, len(a.conns))
	for _, c := range a.conns {
		live = append(live, c)
	}
	a.conns = make(map[string]*conn.Connection)
	a.connMu.Unlock()

	for _, c := range live {
		c.DisconnectWithReason(transport.ReasonServerShutdown)
	}
	a.log.Info("stopped")
}

func (a *Acceptor) getConnection(key string) (*conn.Connection, bool) {
	a.connMu.RLock()
	defer a.connMu.RUnlock()
	c, ok := a.conns[key]
	return c, ok
}

// putConnectionIfAbsent inserts c keyed by key unless an entry already
// exists (spec §4.4 "insert ... ; on collision, dispose the newly built
// Connection and drop").
func (a *Acceptor) putConnectionIfAbsent(key string, c *conn.Connection) bool {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if _, exists := a.conns[key]; exists {
		return false
	}
	a.conns[key] = c
	return true
}

func (a *Acceptor) onConnDisconnect(c *conn.Connection) {
	remote := c.RemoteAddr()
	if remote != nil {
		key := remote.IP.String()
		a.connMu.Lock()
		if cur, ok := a.conns[key]; ok && cur == c {
			delete(a.conns, key)
		}
		a.connMu.Unlock()
	}
	a.releasePort(c.LocalPort())
}

func (a *Acceptor) releasePort(port int) {
	if port == 0 {
		return
	}
	select {
	case a.ports <- port:
	default:
		a.log.Error("port pool overflow releasing port %d", port)
	}
}

func randomSalt() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
