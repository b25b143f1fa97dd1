package conn

import (
	"fmt"

	"rudp/pkg/transport"
)

// enqueueSend is the SendFunc every channel (and the handshake driver)
// calls into. It serializes all outbound datagrams behind a single
// in-flight write at a time (spec §9 "serialized send pipeline"): a
// caller that finds the pipeline idle writes immediately and then drains
// anything queued behind it; a caller that finds it busy just appends and
// returns.
func (c *Connection) enqueueSend(data []byte) error {
	if len(data) > transport.MaxDatagramSize {
		return fmt.Errorf("conn: datagram too large (%d bytes > %d)", len(data), transport.MaxDatagramSize)
	}

	c.sendMu.Lock()
	if c.sending {
		c.sendQueue = append(c.sendQueue, data)
		c.sendMu.Unlock()
		return nil
	}
	c.sending = true
	c.sendMu.Unlock()

	c.drainSendQueue(data)
	return nil
}

func (c *Connection) drainSendQueue(first []byte) {
	data := first
	for {
		socket := c.socket
		remote := c.getRemote()
		var writeErr error
		if socket == nil || remote == nil {
			writeErr = fmt.Errorf("conn: no socket bound")
		} else {
			_, writeErr = socket.WriteToUDP(data, remote)
		}
		if writeErr != nil {
			c.log.Warn("send failed: %v", writeErr)
		}

		c.sendMu.Lock()
		if len(c.sendQueue) == 0 {
			c.sending = false
			c.sendMu.Unlock()
			if writeErr != nil {
				c.disconnect(false)
			}
			return
		}
		data = c.sendQueue[0]
		c.sendQueue = c.sendQueue[1:]
		c.sendMu.Unlock()
	}
}
