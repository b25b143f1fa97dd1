// Package channel implements C2: the three reliability policies a
// Connection can bind to an application packet id (spec §4.2). Every
// variant holds the capability bundle described in spec §9 — a
// header-write and send callback pointing down into the Connection, and a
// deliver callback pointing back up — rather than a direct reference to
// the Connection itself.
package channel

import (
	"time"

	"rudp/pkg/bitio"
	"rudp/pkg/logger"
	"rudp/pkg/transport"
)

// Unreliable is the default channel installed for every packet id until
// an application overrides it (spec §4.2). It adds no metadata and
// delivers exactly once per datagram received — no retransmission, no
// duplicate suppression, because UDP duplication of an unreliable
// datagram is treated as the application's problem, not the channel's.
type Unreliable struct {
	factory     transport.PacketFactory
	writeHeader transport.HeaderWriteFunc
	send        transport.SendFunc
	deliver     transport.DeliverFunc
	log         *logger.Logger
}

// NewUnreliable constructs an Unreliable channel bound to the given
// capability bundle.
func NewUnreliable(factory transport.PacketFactory, writeHeader transport.HeaderWriteFunc, send transport.SendFunc, deliver transport.DeliverFunc) *Unreliable {
	return &Unreliable{
		factory:     factory,
		writeHeader: writeHeader,
		send:        send,
		deliver:     deliver,
		log:         logger.With("channel", "unreliable"),
	}
}

func (u *Unreliable) Send(pkt transport.Packet) error {
	w := bitio.NewWriter(64)
	if err := u.writeHeader(w, pkt.ID()); err != nil {
		return err
	}
	if err := pkt.WritePacket(w); err != nil {
		return err
	}
	return u.send(w.Bytes())
}

func (u *Unreliable) Receive(r transport.BitReader, id uint8) error {
	pkt, err := u.factory.Create(id)
	if err != nil {
		u.log.Warn("unknown packet id %d: %v", id, err)
		return nil
	}
	if err := pkt.ReadPacket(r); err != nil {
		u.log.Warn("malformed payload for id %d: %v", id, err)
		return nil
	}
	u.deliver(pkt)
	return nil
}

func (u *Unreliable) Tick(time.Time) {}
