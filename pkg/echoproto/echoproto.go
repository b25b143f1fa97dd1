// Package echoproto is the minimal application-defined Packet/PacketFactory
// used by cmd/echoserver and cmd/echoclient to exercise every component
// of the transport core end to end (spec §1's scope note: the protocol
// above Framing/Channel/Connection/Acceptor is a host-provided
// collaborator, not part of the core itself).
package echoproto

import (
	"fmt"

	"rudp/pkg/transport"
)

// Packet ids. Three ids let the demo bind one to each channel kind.
const (
	IDChat uint8 = iota
	IDPing
	IDBulk
	TypeCount
)

// Chat is delivered on an Ordered Reliable channel: a short text line
// that must arrive in submission order.
type Chat struct {
	From string
	Text string
}

func (c *Chat) ID() uint8 { return IDChat }

func (c *Chat) WritePacket(w transport.BitWriter) error {
	writeString(w, c.From)
	writeString(w, c.Text)
	return nil
}

func (c *Chat) ReadPacket(r transport.BitReader) error {
	from, err := readString(r)
	if err != nil {
		return err
	}
	text, err := readString(r)
	if err != nil {
		return err
	}
	c.From, c.Text = from, text
	return nil
}

// Ping is delivered on a Reliable channel: a sequence number the peer
// should echo back once, with no ordering guarantee required.
type Ping struct {
	Nonce uint32
}

func (p *Ping) ID() uint8 { return IDPing }

func (p *Ping) WritePacket(w transport.BitWriter) error {
	w.WriteU32(p.Nonce)
	return nil
}

func (p *Ping) ReadPacket(r transport.BitReader) error {
	n, err := r.ReadU32()
	if err != nil {
		return err
	}
	p.Nonce = n
	return nil
}

// Bulk is delivered on an Unreliable channel: a burst of filler bytes
// used to demonstrate that loss on this channel is tolerated silently.
type Bulk struct {
	Seq     uint32
	Payload []byte
}

func (b *Bulk) ID() uint8 { return IDBulk }

func (b *Bulk) WritePacket(w transport.BitWriter) error {
	w.WriteU32(b.Seq)
	w.WriteU16(uint16(len(b.Payload)))
	w.WriteBytes(b.Payload)
	return nil
}

func (b *Bulk) ReadPacket(r transport.BitReader) error {
	seq, err := r.ReadU32()
	if err != nil {
		return err
	}
	n, err := r.ReadU16()
	if err != nil {
		return err
	}
	payload, err := r.ReadBytes(int(n))
	if err != nil {
		return err
	}
	b.Seq = seq
	b.Payload = append([]byte(nil), payload...)
	return nil
}

func writeString(w transport.BitWriter, s string) {
	w.WriteU16(uint16(len(s)))
	w.WriteBytes([]byte(s))
}

func readString(r transport.BitReader) (string, error) {
	n, err := r.ReadU16()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Factory implements transport.PacketFactory for the three demo packet
// kinds.
type Factory struct{}

func (Factory) TypeCount() int { return int(TypeCount) }

func (Factory) Create(id uint8) (transport.Packet, error) {
	switch id {
	case IDChat:
		return &Chat{}, nil
	case IDPing:
		return &Ping{}, nil
	case IDBulk:
		return &Bulk{}, nil
	default:
		return nil, fmt.Errorf("echoproto: unknown packet id %d", id)
	}
}
