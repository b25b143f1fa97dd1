package conn

import (
	"net"
	"sync/atomic"
	"time"

	"rudp/pkg/bitio"
	"rudp/pkg/framing"
	"rudp/pkg/transport"
)

// Connect begins the client-side handshake to remote (spec §4.3). It is a
// no-op if the Connection has already left ReadyToConnect — calling
// Connect twice, or on a server-adopted Connection, has no effect.
func (c *Connection) Connect(remote *net.UDPAddr) error {
	if !c.casState(transport.StateReadyToConnect, transport.StateAwaitingChallenge) {
		return nil
	}

	socket, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		atomic.StoreInt32(&c.state, int32(transport.StateReadyToConnect))
		return err
	}
	salt, err := randomSalt()
	if err != nil {
		socket.Close()
		atomic.StoreInt32(&c.state, int32(transport.StateReadyToConnect))
		return err
	}

	c.socket = socket
	c.ownsSocket = true
	c.saltMu.Lock()
	c.remote = remote
	c.localSalt = salt
	c.lastHandshake = time.Now()
	c.saltMu.Unlock()

	c.setLastReceived(time.Now())
	go c.receiveLoop()
	go c.timerLoop()

	c.sendConnect()
	atomic.StoreInt32(&c.retryCnt, 1)
	return nil
}

func (c *Connection) sendConnect() {
	w := bitio.NewWriter(16)
	framing.EncodeConnect(w, c.getLocalSalt())
	if err := c.enqueueSend(w.Bytes()); err != nil {
		c.log.Warn("send Connect failed: %v", err)
	}
}

func (c *Connection) sendSolution() {
	w := bitio.NewWriter(16)
	framing.EncodeSolution(w, c.getSessionSalt())
	if err := c.enqueueSend(w.Bytes()); err != nil {
		c.log.Warn("send Solution failed: %v", err)
	}
}

func (c *Connection) sendDisconnect(reason transport.DisconnectReason) {
	w := bitio.NewWriter(16)
	framing.EncodeDisconnect(w, c.getSessionSalt(), reason)
	if err := c.enqueueSend(w.Bytes()); err != nil {
		c.log.Warn("send Disconnect failed: %v", err)
	}
}

// onChallenge handles a server->client Challenge during AwaitingChallenge
// (spec §4.3, §4.4 S4: a Challenge whose echoed clientSalt does not match
// is silently dropped; it does not advance the state machine).
func (c *Connection) onChallenge(r transport.BitReader) {
	clientSalt, serverSalt, err := framing.DecodeChallenge(r)
	if err != nil {
		return
	}
	if clientSalt != c.getLocalSalt() {
		c.log.Debug("dropping Challenge with mismatched client salt")
		return
	}
	if !c.casState(transport.StateAwaitingChallenge, transport.StateAwaitingConnected) {
		// Already past this phase: stale retransmit, duplicate, or a
		// race with a concurrent disconnect. No-op either way.
		return
	}
	c.saltMu.Lock()
	c.remoteSalt = serverSalt
	c.sessionSalt = transport.CombineSalt(c.localSalt, serverSalt)
	c.lastHandshake = time.Now()
	c.saltMu.Unlock()
	atomic.StoreInt32(&c.retryCnt, 1)
	c.sendSolution()
}

// onConnected handles a server->client Connected during AwaitingConnected
// (spec §4.3). The port migration is re-applied even on a duplicate
// Connected for an already-Connected Connection (open question resolved
// in DESIGN.md): harmless to re-apply the same port. The state transition
// is not repeated — its CAS fails — so HandleConnected fires only once.
func (c *Connection) onConnected(r transport.BitReader) {
	salt, port, err := framing.DecodeConnected(r)
	if err != nil {
		return
	}
	if salt != c.getSessionSalt() {
		c.log.Debug("dropping Connected with mismatched session salt")
		return
	}

	c.saltMu.Lock()
	if c.remote != nil {
		c.remote = &net.UDPAddr{IP: c.remote.IP, Port: int(port), Zone: c.remote.Zone}
	}
	c.saltMu.Unlock()

	if c.casState(transport.StateAwaitingConnected, transport.StateConnected) {
		atomic.StoreInt32(&c.retryCnt, 0)
		c.setLastReceived(time.Now())
		transport.InvokeConnected(c.getHooks(), transport.StatusSuccess)
	}
}

// onPeerDisconnect handles an inbound Disconnect control packet from the
// remote side (spec §4.3 "peer-initiated" disconnect).
func (c *Connection) onPeerDisconnect(r transport.BitReader) {
	_, reason, err := framing.DecodeDisconnect(r)
	if err != nil {
		return
	}
	c.log.Info("peer disconnected: %s", reason)
	c.disconnect(false)
}
