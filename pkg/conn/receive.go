package conn

import (
	"net"
	"sync/atomic"
	"time"

	"rudp/pkg/bitio"
	"rudp/pkg/framing"
	"rudp/pkg/transport"
)

// receiveLoop keeps exactly one ReadFromUDP outstanding at a time and
// hands each datagram off to its own dispatch goroutine so a slow
// application handler never stalls the next read (spec §9 "receive
// pump").
func (c *Connection) receiveLoop() {
	buf := make([]byte, 2048)
	for {
		n, from, err := c.socket.ReadFromUDP(buf)
		if err != nil {
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}
			c.log.Warn("socket read failed: %v", err)
			c.disconnect(false)
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		go c.dispatch(data, from)
	}
}

func (c *Connection) dispatch(data []byte, from *net.UDPAddr) {
	r := bitio.NewReader(data)
	hdr, err := framing.DecodeHeader(r)
	if err != nil {
		c.log.Debug("malformed datagram from %s: %v", from, err)
		return
	}

	if hdr.IsControl {
		c.dispatchControl(hdr.ControlType, r)
		return
	}

	if hdr.SessionSalt != c.getSessionSalt() {
		c.log.Debug("dropping application datagram with mismatched session salt")
		return
	}
	c.setLastReceived(time.Now())

	ch := c.channelFor(hdr.AppID)
	if ch == nil {
		c.log.Debug("no channel installed for packet id %d", hdr.AppID)
		return
	}
	if err := ch.Receive(r, hdr.AppID); err != nil {
		c.log.Debug("channel rejected datagram for id %d: %v", hdr.AppID, err)
	}
}

func (c *Connection) dispatchControl(t framing.ControlType, r transport.BitReader) {
	switch t {
	case framing.ControlChallenge:
		c.onChallenge(r)
	case framing.ControlConnected:
		c.onConnected(r)
	case framing.ControlDisconnect:
		c.onPeerDisconnect(r)
	default:
		// Connect and Solution are server-bound; a live Connection never
		// acts on them (the Acceptor owns that side of the handshake).
	}
}
