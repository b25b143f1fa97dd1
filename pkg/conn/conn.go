// Package conn implements C3: the per-peer Connection state machine,
// handshake driver, serialized send pipeline, and receive dispatch (spec
// §3, §4.3). A Connection is created either by an application dialing out
// (New + Connect) or by an Acceptor adopting an inbound
// handshake directly into the Connected state (NewAdopted).
package conn

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"rudp/pkg/channel"
	"rudp/pkg/framing"
	"rudp/pkg/logger"
	"rudp/pkg/transport"
)

// Connection is a single peer's state machine, send pipeline, and receive
// dispatch (spec component C3).
type Connection struct {
	factory  transport.PacketFactory
	hooksVal atomic.Value // transport.ConnHooks
	opts     options
	log      *logger.Logger

	socket *net.UDPConn

	state      int32 // transport.State
	closed     int32 // 1 once Disconnected teardown has run
	retryCnt   int32
	isServer   bool
	ownsSocket bool // true once the Connection has bound its own socket (client-dialed or adopted)

	saltMu         sync.RWMutex
	localSalt      uint64
	remoteSalt     uint64
	sessionSalt    uint64
	remote         *net.UDPAddr
	lastHandshake  time.Time
	lastReceived   int64 // unix nano, atomic

	sendMu    sync.Mutex
	sending   bool
	sendQueue [][]byte

	chMu     sync.RWMutex
	channels map[uint8]transport.Channel

	stopCh chan struct{}
	doneCh chan struct{}

	teardown func(*Connection)
}

// New constructs a client-side Connection, unconnected (spec §4.3 "Ready
// to Connect"). Call Connect to begin the handshake.
func New(factory transport.PacketFactory, hooks transport.ConnHooks, opts ...Option) *Connection {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	c := &Connection{
		factory:  factory,
		opts:     o,
		log:      logger.With("role", "client"),
		state:    int32(transport.StateReadyToConnect),
		channels: make(map[uint8]transport.Channel),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	c.hooksVal.Store(hooks)
	c.installDefaultChannels()
	return c
}

// NewAdopted constructs a Connection already in the Connected state, for
// an Acceptor that has just completed the server side of a handshake on
// a dedicated port dequeued from its pool (spec §4.4: "the Connection
// begins life already Connected — the handshake that produced it already
// ran on the Acceptor's behalf"; "bind it to the dequeued port ... all
// subsequent application traffic from A is addressed to the Connection's
// dedicated port, not the listener's port").
func NewAdopted(factory transport.PacketFactory, hooks transport.ConnHooks, localPort int, remote *net.UDPAddr, sessionSalt uint64, opts ...Option) (*Connection, error) {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	socket, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, err
	}
	c := &Connection{
		factory:     factory,
		opts:        o,
		log:         logger.With("role", "server", "remote", remote.String(), "port", localPort),
		state:       int32(transport.StateConnected),
		isServer:    true,
		socket:      socket,
		ownsSocket:  true,
		remote:      remote,
		sessionSalt: sessionSalt,
		channels:    make(map[uint8]transport.Channel),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	c.hooksVal.Store(hooks)
	c.installDefaultChannels()
	c.setLastReceived(time.Now())
	go c.receiveLoop()
	go c.timerLoop()
	return c, nil
}

// SetHooks replaces the application hook set bound to this Connection.
// An Acceptor calls this from its HandleConnection callback since an
// adopted Connection is already live (and its receive pump already
// running) before the application gets a chance to look at it (spec §9,
// §4.4).
func (c *Connection) SetHooks(hooks transport.ConnHooks) {
	c.hooksVal.Store(hooks)
}

func (c *Connection) getHooks() transport.ConnHooks {
	if v := c.hooksVal.Load(); v != nil {
		return v.(transport.ConnHooks)
	}
	return transport.ConnHooks{}
}

// SessionSalt reports the combined session salt, valid once Connected.
func (c *Connection) SessionSalt() uint64 {
	return c.getSessionSalt()
}

// LocalPort reports the UDP port this Connection's socket is bound to.
func (c *Connection) LocalPort() int {
	if c.socket == nil {
		return 0
	}
	if addr, ok := c.socket.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// installDefaultChannels gives every application packet id an Unreliable
// channel up front (spec §4.2: "every id defaults to Unreliable until the
// application calls SetPacketChannel").
func (c *Connection) installDefaultChannels() {
	n := c.factory.TypeCount()
	for id := 0; id < n; id++ {
		c.channels[uint8(id)] = c.NewUnreliableChannel()
	}
}

// --- Public channel factories (spec §6) ---

// NewUnreliableChannel builds an Unreliable channel wired to this
// Connection's header writer, send pipeline, and packet-delivery hook.
func (c *Connection) NewUnreliableChannel() transport.Channel {
	return channel.NewUnreliable(c.factory, c.writeHeader, c.enqueueSend, c.deliver)
}

// NewReliableChannel builds a Reliable channel using resendInterval, or
// the package default (transport.DefaultResendInterval) if zero.
func (c *Connection) NewReliableChannel(resendInterval time.Duration) transport.Channel {
	if resendInterval <= 0 {
		resendInterval = transport.DefaultResendInterval
	}
	return channel.NewReliable(c.factory, c.writeHeader, c.enqueueSend, c.deliver, resendInterval)
}

// NewOrderedReliableChannel builds an OrderedReliable channel using
// resendInterval/capacity, or the package defaults if zero.
func (c *Connection) NewOrderedReliableChannel(resendInterval time.Duration, capacity int) transport.Channel {
	if resendInterval <= 0 {
		resendInterval = transport.DefaultResendInterval
	}
	if capacity <= 0 {
		capacity = transport.DefaultReorderCapacity
	}
	return channel.NewOrderedReliable(c.factory, c.writeHeader, c.enqueueSend, c.deliver, resendInterval, capacity)
}

// SetPacketChannel installs ch as the reliability policy for id (spec
// §6). Safe to call at any time; takes effect on the next Send/Receive.
func (c *Connection) SetPacketChannel(id uint8, ch transport.Channel) {
	c.chMu.Lock()
	c.channels[id] = ch
	c.chMu.Unlock()
}

func (c *Connection) channelFor(id uint8) transport.Channel {
	c.chMu.RLock()
	defer c.chMu.RUnlock()
	return c.channels[id]
}

// SetOnDisconnect registers a hook invoked once teardown runs, after the
// application's own HandleDisconnect. Used by the Acceptor for table
// removal and port recycling (spec §6 "event hook OnDisconnect(connection)").
func (c *Connection) SetOnDisconnect(fn func(*Connection)) {
	c.teardown = fn
}

// State reports the current FSM state.
func (c *Connection) State() transport.State {
	return transport.State(atomic.LoadInt32(&c.state))
}

// RemoteAddr reports the address the Connection currently sends to.
func (c *Connection) RemoteAddr() *net.UDPAddr {
	c.saltMu.RLock()
	defer c.saltMu.RUnlock()
	return c.remote
}

func (c *Connection) casState(from, to transport.State) bool {
	return atomic.CompareAndSwapInt32(&c.state, int32(from), int32(to))
}

func (c *Connection) getSessionSalt() uint64 {
	c.saltMu.RLock()
	defer c.saltMu.RUnlock()
	return c.sessionSalt
}

func (c *Connection) getLocalSalt() uint64 {
	c.saltMu.RLock()
	defer c.saltMu.RUnlock()
	return c.localSalt
}

func (c *Connection) getRemote() *net.UDPAddr {
	c.saltMu.RLock()
	defer c.saltMu.RUnlock()
	return c.remote
}

func (c *Connection) setLastReceived(t time.Time) {
	atomic.StoreInt64(&c.lastReceived, t.UnixNano())
}

func (c *Connection) getLastReceived() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastReceived))
}

func randomSalt() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// writeHeader is the HeaderWriteFunc handed to every channel this
// Connection owns (spec §9 capability bundle).
func (c *Connection) writeHeader(w transport.BitWriter, appID uint8) error {
	framing.WriteApplicationHeader(w, c.getSessionSalt(), appID)
	return nil
}

// deliver is the DeliverFunc handed to every channel; it forwards to the
// application's HandlePacket hook.
func (c *Connection) deliver(pkt transport.Packet) {
	transport.InvokePacket(c.getHooks(), pkt)
}

// Send writes pkt through whichever channel is installed for pkt.ID()
// (spec §6).
func (c *Connection) Send(pkt transport.Packet) error {
	if c.State() != transport.StateConnected {
		return fmt.Errorf("conn: not connected")
	}
	ch := c.channelFor(pkt.ID())
	if ch == nil {
		return fmt.Errorf("conn: no channel installed for packet id %d", pkt.ID())
	}
	return ch.Send(pkt)
}
