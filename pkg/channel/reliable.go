package channel

import (
	"time"

	"rudp/pkg/bitio"
	"rudp/pkg/logger"
	"rudp/pkg/transport"
)

// Reliable retransmits unacknowledged packets until a piggybacked ack
// vector from the peer covers them, and deduplicates on receipt. Delivery
// order is whatever order the network delivered distinct sequences in —
// no reordering (spec §4.2, §5: "delivers each sequence at most once, in
// the order received from the network").
type Reliable struct {
	core *reliableCore

	factory     transport.PacketFactory
	writeHeader transport.HeaderWriteFunc
	send        transport.SendFunc
	deliver     transport.DeliverFunc
	log         *logger.Logger
}

// NewReliable constructs a Reliable channel. resendInterval is how long an
// unacknowledged datagram waits before being resent with the same
// sequence (spec §4.2).
func NewReliable(factory transport.PacketFactory, writeHeader transport.HeaderWriteFunc, send transport.SendFunc, deliver transport.DeliverFunc, resendInterval time.Duration) *Reliable {
	return &Reliable{
		core:        newReliableCore(resendInterval),
		factory:     factory,
		writeHeader: writeHeader,
		send:        send,
		deliver:     deliver,
		log:         logger.With("channel", "reliable"),
	}
}

func (c *Reliable) Send(pkt transport.Packet) error {
	return sendWithAck(c.core, c.writeHeader, c.send, pkt)
}

func (c *Reliable) Receive(r transport.BitReader, id uint8) error {
	seq, ackBase, ackBits, err := readSeqAndAck(r)
	if err != nil {
		return err
	}
	c.core.processAck(ackBase, ackBits)

	if c.core.isDuplicate(seq) {
		c.log.Debug("dropping duplicate seq=%d", seq)
		return nil
	}
	c.core.markReceived(seq)

	pkt, err := c.factory.Create(id)
	if err != nil {
		c.log.Warn("unknown packet id %d: %v", id, err)
		return nil
	}
	if err := pkt.ReadPacket(r); err != nil {
		c.log.Warn("malformed payload for id %d: %v", id, err)
		return nil
	}
	c.deliver(pkt)
	return nil
}

func (c *Reliable) Tick(now time.Time) {
	resendDue(c.core, c.send, c.log, now)
}

// sendWithAck is shared by Reliable and OrderedReliable: both write an
// identical [seq][ackBase][ackBits][body] payload and retain the framed
// datagram for retransmission.
func sendWithAck(core *reliableCore, writeHeader transport.HeaderWriteFunc, send transport.SendFunc, pkt transport.Packet) error {
	seq := core.nextSendSeq()
	ackBase, ackBits := core.ackSnapshot()

	w := bitio.NewWriter(64)
	if err := writeHeader(w, pkt.ID()); err != nil {
		return err
	}
	w.WriteU16(seq)
	w.WriteU16(ackBase)
	w.WriteU32(ackBits)
	if err := pkt.WritePacket(w); err != nil {
		return err
	}
	frame := w.Bytes()
	core.storeUnacked(seq, frame)
	return send(frame)
}

// readSeqAndAck parses the [seq][ackBase][ackBits] prefix both reliable
// variants share.
func readSeqAndAck(r transport.BitReader) (seq, ackBase uint16, ackBits uint32, err error) {
	seq, err = r.ReadU16()
	if err != nil {
		return 0, 0, 0, err
	}
	ackBase, err = r.ReadU16()
	if err != nil {
		return 0, 0, 0, err
	}
	ackBits, err = r.ReadU32()
	if err != nil {
		return 0, 0, 0, err
	}
	return seq, ackBase, ackBits, nil
}

func resendDue(core *reliableCore, send transport.SendFunc, log *logger.Logger, now time.Time) {
	for _, frame := range core.dueFrames(now) {
		if err := send(frame); err != nil {
			log.Warn("resend failed: %v", err)
		}
	}
}
