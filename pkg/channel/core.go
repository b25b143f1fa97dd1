package channel

import (
	"sync"
	"time"
)

// pendingFrame is a retained, fully framed datagram awaiting
// acknowledgment, keyed by its sequence number.
type pendingFrame struct {
	frame  []byte
	sentAt time.Time
}

// reliableCore holds the sequence/ack bookkeeping shared by Reliable and
// OrderedReliable (spec §4.2: "Ordered Reliable: everything Reliable
// does, plus a reorder buffer"). It is deliberately not exported: both
// channel variants embed it and add their own receive-side delivery
// policy on top.
//
// The ack vector is a 32-bit window relative to a base sequence: bit i
// means "base-i was received". Bit 0 is always set once anything has been
// received, since base is itself the highest sequence received.
type reliableCore struct {
	mu sync.Mutex

	sendSeq uint16
	unacked map[uint16]*pendingFrame

	resendInterval time.Duration

	haveHighest     bool
	highestReceived uint16
	recvBits        uint32
}

func newReliableCore(resendInterval time.Duration) *reliableCore {
	return &reliableCore{
		unacked:        make(map[uint16]*pendingFrame),
		resendInterval: resendInterval,
	}
}

// signedDistance returns the signed sequence distance a-b using 16-bit
// wraparound arithmetic: a result in (0, 32768) means a is newer than b,
// a result in (-32768, 0) means a is older (spec §4.2's "distance to the
// last received is less than half the range").
func signedDistance(a, b uint16) int16 {
	return int16(a - b)
}

// nextSendSeq allocates and returns the next outbound sequence number.
func (c *reliableCore) nextSendSeq() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.sendSeq
	c.sendSeq++
	return seq
}

// ackSnapshot returns the current receive-side ack vector to piggyback on
// an outbound datagram.
func (c *reliableCore) ackSnapshot() (base uint16, bits uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highestReceived, c.recvBits
}

// storeUnacked retains a fully framed datagram for retransmission until
// it is acknowledged or the channel is torn down.
func (c *reliableCore) storeUnacked(seq uint16, frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unacked[seq] = &pendingFrame{frame: frame, sentAt: time.Now()}
}

// processAck removes every sequence the ack vector covers from the
// retransmit store (spec §4.2: "Acknowledged packets are removed from the
// retransmit store").
func (c *reliableCore) processAck(base uint16, bits uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := uint(0); i < 32; i++ {
		if bits&(1<<i) == 0 {
			continue
		}
		seq := base - uint16(i)
		delete(c.unacked, seq)
	}
}

// isDuplicate reports whether seq has already been recorded as received,
// either as the current highest or within the trailing ack window. A
// sequence older than the window's reach is also treated as a duplicate —
// it is too stale to distinguish from one already acknowledged and
// forgotten (spec §4.2: "duplicates are dropped on receipt").
func (c *reliableCore) isDuplicate(seq uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveHighest {
		return false
	}
	d := signedDistance(seq, c.highestReceived)
	if d > 0 {
		return false
	}
	pos := uint(-d)
	if pos >= 32 {
		return true
	}
	if pos == 0 {
		return true
	}
	return c.recvBits&(1<<pos) != 0
}

// markReceived records seq as received, advancing the window if seq is
// newer than anything seen before.
func (c *reliableCore) markReceived(seq uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveHighest {
		c.highestReceived = seq
		c.recvBits = 1
		c.haveHighest = true
		return
	}
	d := signedDistance(seq, c.highestReceived)
	if d <= 0 {
		pos := uint(-d)
		if pos < 32 {
			c.recvBits |= 1 << pos
		}
		return
	}
	shift := uint(d)
	if shift >= 32 {
		c.recvBits = 1
	} else {
		c.recvBits = (c.recvBits << shift) | 1
	}
	c.highestReceived = seq
}

// dueFrames returns the retained frames whose resend interval has
// elapsed, refreshing their sentAt so a single Tick never resends the
// same frame twice.
func (c *reliableCore) dueFrames(now time.Time) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due [][]byte
	for _, p := range c.unacked {
		if now.Sub(p.sentAt) >= c.resendInterval {
			p.sentAt = now
			due = append(due, p.frame)
		}
	}
	return due
}
