package conn

import (
	"sync/atomic"

	"rudp/pkg/transport"
)

// Disconnect initiates a local, graceful teardown (spec §4.3 "Connected +
// initiate"). It is idempotent: a Connection already disconnecting or
// disconnected ignores a repeat call.
func (c *Connection) Disconnect() {
	c.disconnectWithReason(true, transport.ReasonClientDisconnect)
}

// DisconnectWithReason is Disconnect with an explicit wire reason, for
// callers (the Acceptor's graceful Stop, in particular) that need to tell
// the peer why.
func (c *Connection) DisconnectWithReason(reason transport.DisconnectReason) {
	c.disconnectWithReason(true, reason)
}

func (c *Connection) disconnect(initiate bool) {
	c.disconnectWithReason(initiate, transport.ReasonClientDisconnect)
}

// disconnectWithReason is the single-shot teardown latch every disconnect
// path (application-initiated, peer-initiated, socket failure, liveness
// timeout) funnels through. A handshake that exhausts its retries does not
// come through here; it returns to ReadyToConnect instead (see
// retryHandshakePhase). Only the caller that wins
// the CAS into Disconnected runs teardown; every other caller, and every
// later call, is a no-op (spec §9 "disconnect is a single-shot latch").
func (c *Connection) disconnectWithReason(initiate bool, reason transport.DisconnectReason) {
	prev := transport.State(atomic.SwapInt32(&c.state, int32(transport.StateDisconnected)))
	if prev == transport.StateDisconnected {
		// Someone else already won the latch; restore nothing, just bail.
		return
	}
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}

	if prev == transport.StateConnected && initiate {
		c.sendDisconnect(reason)
	}

	close(c.stopCh)
	if c.socket != nil && c.ownsSocket {
		c.socket.Close()
	}

	switch prev {
	case transport.StateConnected:
		transport.InvokeDisconnect(c.getHooks())
	case transport.StateAwaitingChallenge:
		transport.InvokeConnected(c.getHooks(), transport.StatusDisconnect)
	case transport.StateAwaitingConnected:
		transport.InvokeConnected(c.getHooks(), transport.StatusDisconnect)
	case transport.StateReadyToConnect:
		// Never started; nothing to report.
	}

	if c.teardown != nil {
		c.teardown(c)
	}
	close(c.doneCh)
}

// Done returns a channel closed once teardown has fully run, for tests
// and callers that want to wait for a clean shutdown.
func (c *Connection) Done() <-chan struct{} {
	return c.doneCh
}
