package acceptor

import (
	"net"
	"time"

	"rudp/pkg/bitio"
	"rudp/pkg/conn"
	"rudp/pkg/framing"
	"rudp/pkg/transport"
)

// handleConnect implements the server side of step 1 (spec §4.4): reject
// for resource exhaustion or an existing connection, otherwise start a
// fresh pending handshake and reply with a Challenge.
func (a *Acceptor) handleConnect(r transport.BitReader, from *net.UDPAddr) {
	clientSalt, err := framing.DecodeConnect(r)
	if err != nil {
		return
	}
	key := from.IP.String()

	// The pool check here is advisory only — the real reservation happens
	// at Solution time, since a race between concurrent Connects can
	// exhaust it between this check and then (spec §4.4).
	if len(a.ports) == 0 {
		a.replyDisconnect(from, clientSalt, transport.ReasonServerFull)
		return
	}
	if _, exists := a.getConnection(key); exists {
		a.replyDisconnect(from, clientSalt, transport.ReasonExistingConnection)
		return
	}

	serverSalt, err := randomSalt()
	if err != nil {
		a.log.Error("salt generation failed: %v", err)
		return
	}
	a.pending.store(key, &pendingHandshake{
		clientSalt: clientSalt,
		serverSalt: serverSalt,
		createdAt:  time.Now(),
	})
	a.replyChallenge(from, clientSalt, serverSalt)
}

// handleSolution implements step 3 (spec §4.4): either resend a lost
// Connected for an already-established peer, or complete the handshake
// by minting a Connection on a dequeued port.
func (a *Acceptor) handleSolution(r transport.BitReader, from *net.UDPAddr) {
	solutionSalt, err := framing.DecodeSolution(r)
	if err != nil {
		return
	}
	key := from.IP.String()

	if existing, ok := a.getConnection(key); ok {
		if existing.SessionSalt() == solutionSalt {
			a.replyConnected(from, solutionSalt, uint16(existing.LocalPort()))
		}
		return
	}

	pend, ok := a.pending.load(key)
	if !ok {
		return
	}
	expected := transport.CombineSalt(pend.clientSalt, pend.serverSalt)
	if expected != solutionSalt {
		return
	}
	if !a.pending.removeIfMatches(key, pend) {
		// A concurrent Solution already consumed this entry.
		return
	}

	var port int
	select {
	case port = <-a.ports:
	default:
		a.log.Warn("solution from %s but port pool is exhausted", from)
		return
	}

	newConn, err := conn.NewAdopted(a.factory, transport.ConnHooks{}, port, cloneAddr(from), solutionSalt, a.connOpts...)
	if err != nil {
		a.log.Error("failed to bind connection port %d: %v", port, err)
		a.releasePort(port)
		return
	}

	if !a.putConnectionIfAbsent(key, newConn) {
		a.log.Warn("collision inserting connection for %s", key)
		newConn.Disconnect()
		a.releasePort(port)
		return
	}
	newConn.SetOnDisconnect(a.onConnDisconnect)

	if a.onAccept != nil {
		newConn.SetHooks(a.onAccept(newConn))
	}

	a.replyConnected(from, solutionSalt, uint16(port))
}

func cloneAddr(addr *net.UDPAddr) *net.UDPAddr {
	return &net.UDPAddr{IP: addr.IP, Port: addr.Port, Zone: addr.Zone}
}

func (a *Acceptor) replyChallenge(to *net.UDPAddr, clientSalt, serverSalt uint64) {
	w := bitio.NewWriter(24)
	framing.EncodeChallenge(w, clientSalt, serverSalt)
	a.enqueueSend(w.Bytes(), to)
}

func (a *Acceptor) replyConnected(to *net.UDPAddr, sessionSalt uint64, port uint16) {
	w := bitio.NewWriter(16)
	framing.EncodeConnected(w, sessionSalt, port)
	a.enqueueSend(w.Bytes(), to)
}

// replyDisconnect rejects a Connect before any session salt exists, so it
// echoes clientSalt in the session-salt field — a client never validates
// that field on a Disconnect (spec leaves the pre-session salt choice
// open; see DESIGN.md).
func (a *Acceptor) replyDisconnect(to *net.UDPAddr, clientSalt uint64, reason transport.DisconnectReason) {
	w := bitio.NewWriter(16)
	framing.EncodeDisconnect(w, clientSalt, reason)
	a.enqueueSend(w.Bytes(), to)
}

// enqueueSend is the listener's own serialized send pipeline (spec §5:
// "Per-listener: one mutex for the send pipeline"), identical in shape to
// a Connection's but addressed per-datagram instead of to one fixed peer.
func (a *Acceptor) enqueueSend(data []byte, to *net.UDPAddr) {
	a.sendMu.Lock()
	if a.sending {
		a.sendQueue = append(a.sendQueue, framedSend{data: data, to: to})
		a.sendMu.Unlock()
		return
	}
	a.sending = true
	a.sendMu.Unlock()
	a.drainSendQueue(framedSend{data: data, to: to})
}

func (a *Acceptor) drainSendQueue(first framedSend) {
	next := first
	for {
		if _, err := a.socket.WriteToUDP(next.data, next.to); err != nil {
			a.log.Warn("send to %s failed: %v", next.to, err)
		}
		a.sendMu.Lock()
		if len(a.sendQueue) == 0 {
			a.sending = false
			a.sendMu.Unlock()
			return
		}
		next = a.sendQueue[0]
		a.sendQueue = a.sendQueue[1:]
		a.sendMu.Unlock()
	}
}
