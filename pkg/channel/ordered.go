package channel

import (
	"sync"
	"time"

	"rudp/pkg/logger"
	"rudp/pkg/transport"
)

// OrderedReliable adds a reorder buffer on top of Reliable's
// retransmit/ack machinery so the application only ever sees packets in
// the sender's submission order (spec §4.2). Under sustained loss that
// exceeds the buffer's capacity, the oldest gap is treated as
// permanently lost and the cursor jumps past it — the one place this
// channel weakens to plain Reliable's guarantees.
type OrderedReliable struct {
	core *reliableCore

	factory     transport.PacketFactory
	writeHeader transport.HeaderWriteFunc
	send        transport.SendFunc
	deliver     transport.DeliverFunc
	log         *logger.Logger

	mu           sync.Mutex
	nextExpected uint16
	buffer       map[uint16]transport.Packet
	capacity     int
}

// NewOrderedReliable constructs an OrderedReliable channel. capacity
// bounds the reorder buffer (spec §4.2, §5: "bounded by the ack window
// size" generalizes here to an explicit reorder-buffer capacity).
func NewOrderedReliable(factory transport.PacketFactory, writeHeader transport.HeaderWriteFunc, send transport.SendFunc, deliver transport.DeliverFunc, resendInterval time.Duration, capacity int) *OrderedReliable {
	return &OrderedReliable{
		core:        newReliableCore(resendInterval),
		factory:     factory,
		writeHeader: writeHeader,
		send:        send,
		deliver:     deliver,
		log:         logger.With("channel", "ordered-reliable"),
		buffer:      make(map[uint16]transport.Packet),
		capacity:    capacity,
	}
}

func (o *OrderedReliable) Send(pkt transport.Packet) error {
	return sendWithAck(o.core, o.writeHeader, o.send, pkt)
}

func (o *OrderedReliable) Receive(r transport.BitReader, id uint8) error {
	seq, ackBase, ackBits, err := readSeqAndAck(r)
	if err != nil {
		return err
	}
	o.core.processAck(ackBase, ackBits)

	if o.core.isDuplicate(seq) {
		o.log.Debug("dropping duplicate seq=%d", seq)
		return nil
	}
	o.core.markReceived(seq)

	pkt, err := o.factory.Create(id)
	if err != nil {
		o.log.Warn("unknown packet id %d: %v", id, err)
		return nil
	}
	if err := pkt.ReadPacket(r); err != nil {
		o.log.Warn("malformed payload for id %d: %v", id, err)
		return nil
	}

	ready := o.admit(seq, pkt)
	for _, p := range ready {
		o.deliver(p)
	}
	return nil
}

// admit folds seq/pkt into the reorder buffer and returns, in order, every
// packet that is now deliverable.
func (o *OrderedReliable) admit(seq uint16, pkt transport.Packet) []transport.Packet {
	o.mu.Lock()
	defer o.mu.Unlock()

	d := signedDistance(seq, o.nextExpected)
	if d < 0 {
		// Already delivered (or skipped past); drop.
		return nil
	}
	if d > 0 && len(o.buffer) >= o.capacity {
		o.skipGapLocked()
		d = signedDistance(seq, o.nextExpected)
		if d < 0 {
			return nil
		}
	}
	if d > 0 {
		o.buffer[seq] = pkt
		return o.drainLocked()
	}
	// d == 0: in-order arrival.
	out := []transport.Packet{pkt}
	o.nextExpected++
	out = append(out, o.drainLocked()...)
	return out
}

// drainLocked releases the contiguous prefix of the buffer starting at
// nextExpected.
func (o *OrderedReliable) drainLocked() []transport.Packet {
	var out []transport.Packet
	for {
		pkt, ok := o.buffer[o.nextExpected]
		if !ok {
			return out
		}
		delete(o.buffer, o.nextExpected)
		out = append(out, pkt)
		o.nextExpected++
	}
}

// skipGapLocked implements the overflow policy: jump the cursor to the
// oldest sequence currently buffered, abandoning whatever preceded it.
func (o *OrderedReliable) skipGapLocked() {
	have := false
	var min uint16
	for seq := range o.buffer {
		if !have || signedDistance(seq, min) < 0 {
			min = seq
			have = true
		}
	}
	if have {
		o.log.Warn("reorder buffer full, skipping gap to seq=%d", min)
		o.nextExpected = min
	}
}

func (o *OrderedReliable) Tick(now time.Time) {
	resendDue(o.core, o.send, o.log, now)
}
