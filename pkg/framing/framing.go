// Package framing implements C1: the two-variant wire header and the
// control-packet payloads (spec §4.1). A datagram's first field
// discriminates control traffic (handshake/teardown) from application
// traffic (channel-carried packets); control payloads are fixed, small
// structs the Connection and Acceptor state machines exchange directly.
package framing

import (
	"errors"

	"rudp/pkg/transport"
)

// ErrMalformed is returned by any Decode* function when the reader runs
// out of bytes mid-field. Callers treat it as a silent protocol-violation
// drop (spec §7); it is never surfaced past the Connection/Acceptor
// boundary.
var ErrMalformed = errors.New("framing: malformed datagram")

// ControlType identifies a control-variant payload (spec §4.1).
type ControlType uint8

const (
	ControlConnect ControlType = iota
	ControlChallenge
	ControlSolution
	ControlConnected
	ControlDisconnect
)

// WriteControlHeader writes the discriminator bit (set) and the control
// type byte.
func WriteControlHeader(w transport.BitWriter, t ControlType) {
	w.WriteBool(true)
	w.WriteU8(uint8(t))
}

// WriteApplicationHeader writes the discriminator bit (clear), the
// session salt, and the application packet id — the prefix every
// application-variant datagram carries ahead of its channel-defined
// payload (spec §4.1, §6).
func WriteApplicationHeader(w transport.BitWriter, sessionSalt uint64, appID uint8) {
	w.WriteBool(false)
	w.WriteU64(sessionSalt)
	w.WriteU8(appID)
}

// DecodedHeader is the result of peeling the discriminator off an inbound
// datagram.
type DecodedHeader struct {
	IsControl   bool
	ControlType ControlType
	SessionSalt uint64
	AppID       uint8
}

// DecodeHeader reads the discriminator and whichever fixed fields follow
// it. For an application variant the caller still needs to validate
// SessionSalt against the Connection's own salt before dispatching to a
// Channel (spec §3 invariant 5).
func DecodeHeader(r transport.BitReader) (DecodedHeader, error) {
	isControl, err := r.ReadBool()
	if err != nil {
		return DecodedHeader{}, ErrMalformed
	}
	if isControl {
		t, err := r.ReadU8()
		if err != nil {
			return DecodedHeader{}, ErrMalformed
		}
		return DecodedHeader{IsControl: true, ControlType: ControlType(t)}, nil
	}
	salt, err := r.ReadU64()
	if err != nil {
		return DecodedHeader{}, ErrMalformed
	}
	id, err := r.ReadU8()
	if err != nil {
		return DecodedHeader{}, ErrMalformed
	}
	return DecodedHeader{IsControl: false, SessionSalt: salt, AppID: id}, nil
}

// --- Control payloads ---

// EncodeConnect writes a client->server Connect(clientSalt).
func EncodeConnect(w transport.BitWriter, clientSalt uint64) {
	WriteControlHeader(w, ControlConnect)
	w.WriteU64(clientSalt)
}

// DecodeConnect reads a Connect payload (header already consumed).
func DecodeConnect(r transport.BitReader) (clientSalt uint64, err error) {
	clientSalt, err = r.ReadU64()
	if err != nil {
		return 0, ErrMalformed
	}
	return clientSalt, nil
}

// EncodeChallenge writes a server->client Challenge(clientSalt,
// serverSalt).
func EncodeChallenge(w transport.BitWriter, clientSalt, serverSalt uint64) {
	WriteControlHeader(w, ControlChallenge)
	w.WriteU64(clientSalt)
	w.WriteU64(serverSalt)
}

func DecodeChallenge(r transport.BitReader) (clientSalt, serverSalt uint64, err error) {
	clientSalt, err = r.ReadU64()
	if err != nil {
		return 0, 0, ErrMalformed
	}
	serverSalt, err = r.ReadU64()
	if err != nil {
		return 0, 0, ErrMalformed
	}
	return clientSalt, serverSalt, nil
}

// EncodeSolution writes a client->server Solution(sessionSalt).
func EncodeSolution(w transport.BitWriter, sessionSalt uint64) {
	WriteControlHeader(w, ControlSolution)
	w.WriteU64(sessionSalt)
}

func DecodeSolution(r transport.BitReader) (sessionSalt uint64, err error) {
	sessionSalt, err = r.ReadU64()
	if err != nil {
		return 0, ErrMalformed
	}
	return sessionSalt, nil
}

// EncodeConnected writes a server->client Connected(sessionSalt, port).
func EncodeConnected(w transport.BitWriter, sessionSalt uint64, port uint16) {
	WriteControlHeader(w, ControlConnected)
	w.WriteU64(sessionSalt)
	w.WriteU16(port)
}

func DecodeConnected(r transport.BitReader) (sessionSalt uint64, port uint16, err error) {
	sessionSalt, err = r.ReadU64()
	if err != nil {
		return 0, 0, ErrMalformed
	}
	port, err = r.ReadU16()
	if err != nil {
		return 0, 0, ErrMalformed
	}
	return sessionSalt, port, nil
}

// EncodeDisconnect writes a Disconnect(sessionSalt, reason), sent by
// either side (spec §4.1).
func EncodeDisconnect(w transport.BitWriter, sessionSalt uint64, reason transport.DisconnectReason) {
	WriteControlHeader(w, ControlDisconnect)
	w.WriteU64(sessionSalt)
	w.WriteU8(uint8(reason))
}

func DecodeDisconnect(r transport.BitReader) (sessionSalt uint64, reason transport.DisconnectReason, err error) {
	sessionSalt, err = r.ReadU64()
	if err != nil {
		return 0, 0, ErrMalformed
	}
	rawReason, err := r.ReadU8()
	if err != nil {
		return 0, 0, ErrMalformed
	}
	// Unknown reason codes are accepted, not rejected (spec §4.1).
	return sessionSalt, transport.DisconnectReason(rawReason), nil
}
