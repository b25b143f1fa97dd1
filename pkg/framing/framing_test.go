package framing

import (
	"testing"

	"rudp/pkg/bitio"
	"rudp/pkg/transport"
)

func TestEncodeDecodeConnect(t *testing.T) {
	w := bitio.NewWriter(16)
	EncodeConnect(w, 0xDEADBEEF)

	r := bitio.NewReader(w.Bytes())
	hdr, err := DecodeHeader(r)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if !hdr.IsControl || hdr.ControlType != ControlConnect {
		t.Fatalf("DecodeHeader: got %+v, want control Connect", hdr)
	}
	salt, err := DecodeConnect(r)
	if err != nil || salt != 0xDEADBEEF {
		t.Fatalf("DecodeConnect: got (%d, %v), want (0xDEADBEEF, nil)", salt, err)
	}
}

func TestEncodeDecodeChallenge(t *testing.T) {
	w := bitio.NewWriter(24)
	EncodeChallenge(w, 111, 222)

	r := bitio.NewReader(w.Bytes())
	if _, err := DecodeHeader(r); err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	clientSalt, serverSalt, err := DecodeChallenge(r)
	if err != nil || clientSalt != 111 || serverSalt != 222 {
		t.Fatalf("DecodeChallenge: got (%d, %d, %v), want (111, 222, nil)", clientSalt, serverSalt, err)
	}
}

func TestEncodeDecodeSolution(t *testing.T) {
	w := bitio.NewWriter(16)
	EncodeSolution(w, 999)

	r := bitio.NewReader(w.Bytes())
	if _, err := DecodeHeader(r); err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	salt, err := DecodeSolution(r)
	if err != nil || salt != 999 {
		t.Fatalf("DecodeSolution: got (%d, %v), want (999, nil)", salt, err)
	}
}

func TestEncodeDecodeConnected(t *testing.T) {
	w := bitio.NewWriter(16)
	EncodeConnected(w, 42, 7777)

	r := bitio.NewReader(w.Bytes())
	if _, err := DecodeHeader(r); err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	salt, port, err := DecodeConnected(r)
	if err != nil || salt != 42 || port != 7777 {
		t.Fatalf("DecodeConnected: got (%d, %d, %v), want (42, 7777, nil)", salt, port, err)
	}
}

func TestEncodeDecodeDisconnect(t *testing.T) {
	w := bitio.NewWriter(16)
	EncodeDisconnect(w, 55, transport.ReasonClientDisconnect)

	r := bitio.NewReader(w.Bytes())
	if _, err := DecodeHeader(r); err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	salt, reason, err := DecodeDisconnect(r)
	if err != nil || salt != 55 || reason != transport.ReasonClientDisconnect {
		t.Fatalf("DecodeDisconnect: got (%d, %v, %v)", salt, reason, err)
	}
}

func TestDecodeDisconnectAcceptsUnknownReason(t *testing.T) {
	w := bitio.NewWriter(16)
	EncodeDisconnect(w, 1, transport.DisconnectReason(200))

	r := bitio.NewReader(w.Bytes())
	if _, err := DecodeHeader(r); err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	_, reason, err := DecodeDisconnect(r)
	if err != nil {
		t.Fatalf("DecodeDisconnect should accept unknown reason codes: %v", err)
	}
	if reason != transport.DisconnectReason(200) {
		t.Fatalf("reason: got %v, want 200", reason)
	}
}

func TestDecodeHeaderApplicationVariant(t *testing.T) {
	w := bitio.NewWriter(16)
	WriteApplicationHeader(w, 0x1122334455667788, 3)

	r := bitio.NewReader(w.Bytes())
	hdr, err := DecodeHeader(r)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if hdr.IsControl {
		t.Fatalf("DecodeHeader: got IsControl=true, want false")
	}
	if hdr.SessionSalt != 0x1122334455667788 {
		t.Fatalf("SessionSalt: got 0x%X, want 0x1122334455667788", hdr.SessionSalt)
	}
	if hdr.AppID != 3 {
		t.Fatalf("AppID: got %d, want 3", hdr.AppID)
	}
}

func TestDecodeHeaderTruncated(t *testing.T) {
	r := bitio.NewReader([]byte{})
	if _, err := DecodeHeader(r); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeConnectTruncated(t *testing.T) {
	w := bitio.NewWriter(4)
	WriteControlHeader(w, ControlConnect)

	r := bitio.NewReader(w.Bytes())
	if _, err := DecodeHeader(r); err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if _, err := DecodeConnect(r); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed on truncated Connect, got %v", err)
	}
}
