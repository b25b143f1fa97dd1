package acceptor

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rudp/pkg/bitio"
	"rudp/pkg/conn"
	"rudp/pkg/framing"
	"rudp/pkg/transport"
)

type nullFactory struct{}

func (nullFactory) TypeCount() int                          { return 0 }
func (nullFactory) Create(id uint8) (transport.Packet, error) { return nil, nil }

func mustListen(t *testing.T) *net.UDPConn {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	return c
}

// TestFullHandshakeS1 exercises the successful handshake scenario end to
// end against a real Acceptor and a real client-side Connection.
func TestFullHandshakeS1(t *testing.T) {
	var accepted *conn.Connection
	var mu sync.Mutex
	a := New("127.0.0.1", 19201, 4, nullFactory{}, func(c *conn.Connection) transport.ConnHooks {
		mu.Lock()
		accepted = c
		mu.Unlock()
		return transport.ConnHooks{}
	})
	require.NoError(t, a.Start())
	defer a.Stop()

	connected := make(chan transport.ConnectStatus, 1)
	client := conn.New(nullFactory{}, transport.ConnHooks{
		HandleConnected: func(status transport.ConnectStatus) { connected <- status },
	}, conn.WithResendInterval(30*time.Millisecond), conn.WithRetryAmount(20))
	defer client.Disconnect()

	require.NoError(t, client.Connect(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 19201}))

	select {
	case status := <-connected:
		assert.Equal(t, transport.StatusSuccess, status)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}
	assert.Equal(t, transport.StateConnected, client.State())

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, accepted, "acceptor should have invoked HandleConnection")
	assert.NotEqual(t, 19201, accepted.LocalPort(), "adopted Connection must bind its own dedicated port")
}

// TestServerFullRejection checks the S2 scenario: an empty port pool
// rejects a Connect with ServerFull and the client reports failure.
func TestServerFullRejection(t *testing.T) {
	a := New("127.0.0.1", 19202, 0, nullFactory{}, nil)
	require.NoError(t, a.Start())
	defer a.Stop()

	connected := make(chan transport.ConnectStatus, 1)
	client := conn.New(nullFactory{}, transport.ConnHooks{
		HandleConnected: func(status transport.ConnectStatus) { connected <- status },
	}, conn.WithResendInterval(30*time.Millisecond), conn.WithRetryAmount(20))
	defer client.Disconnect()

	require.NoError(t, client.Connect(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 19202}))

	select {
	case status := <-connected:
		assert.Equal(t, transport.StatusDisconnect, status)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a rejection before the retry budget would have been exhausted")
	}
	assert.Equal(t, transport.StateDisconnected, client.State())
}

// TestExistingConnectionRejection checks the S2 variant where a second
// Connect from the same remote IP, while the first is already
// established, is rejected outright.
func TestExistingConnectionRejection(t *testing.T) {
	a := New("127.0.0.1", 19203, 4, nullFactory{}, nil)
	require.NoError(t, a.Start())
	defer a.Stop()

	first := conn.New(nullFactory{}, transport.ConnHooks{}, conn.WithResendInterval(30*time.Millisecond))
	defer first.Disconnect()
	require.NoError(t, first.Connect(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 19203}))

	require.Eventually(t, func() bool {
		return first.State() == transport.StateConnected
	}, 2*time.Second, 20*time.Millisecond)

	// A raw second Connect from a different local port, same remote IP.
	raw := mustListen(t)
	defer raw.Close()

	w := bitio.NewWriter(16)
	framing.EncodeConnect(w, 0xAAAA)
	_, err := raw.WriteToUDP(w.Bytes(), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 19203})
	require.NoError(t, err)

	raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, _, err := raw.ReadFromUDP(buf)
	require.NoError(t, err)

	r := bitio.NewReader(buf[:n])
	hdr, err := framing.DecodeHeader(r)
	require.NoError(t, err)
	require.Equal(t, framing.ControlDisconnect, hdr.ControlType)
	_, reason, err := framing.DecodeDisconnect(r)
	require.NoError(t, err)
	assert.Equal(t, transport.ReasonExistingConnection, reason)
}

// TestLostConnectedRetransmission checks the S3 scenario: a duplicate
// Solution for an already-established connection gets the Connected
// message resent with the same dedicated port, rather than minting a
// second Connection.
func TestLostConnectedRetransmission(t *testing.T) {
	a := New("127.0.0.1", 19204, 4, nullFactory{}, nil)
	require.NoError(t, a.Start())
	defer a.Stop()

	raw := mustListen(t)
	defer raw.Close()
	serverAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 19204}

	w := bitio.NewWriter(16)
	framing.EncodeConnect(w, 0x1111)
	_, err := raw.WriteToUDP(w.Bytes(), serverAddr)
	require.NoError(t, err)

	raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, from, err := raw.ReadFromUDP(buf)
	require.NoError(t, err)
	r := bitio.NewReader(buf[:n])
	_, err = framing.DecodeHeader(r)
	require.NoError(t, err)
	clientSalt, serverSalt, err := framing.DecodeChallenge(r)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1111), clientSalt)

	sessionSalt := transport.CombineSalt(clientSalt, serverSalt)
	w = bitio.NewWriter(16)
	framing.EncodeSolution(w, sessionSalt)
	_, err = raw.WriteToUDP(w.Bytes(), from)
	require.NoError(t, err)

	n, _, err = raw.ReadFromUDP(buf)
	require.NoError(t, err)
	r = bitio.NewReader(buf[:n])
	_, err = framing.DecodeHeader(r)
	require.NoError(t, err)
	_, port1, err := framing.DecodeConnected(r)
	require.NoError(t, err)

	// Resend the identical Solution, simulating a lost Connected.
	w = bitio.NewWriter(16)
	framing.EncodeSolution(w, sessionSalt)
	_, err = raw.WriteToUDP(w.Bytes(), from)
	require.NoError(t, err)

	n, _, err = raw.ReadFromUDP(buf)
	require.NoError(t, err)
	r = bitio.NewReader(buf[:n])
	_, err = framing.DecodeHeader(r)
	require.NoError(t, err)
	_, port2, err := framing.DecodeConnected(r)
	require.NoError(t, err)

	assert.Equal(t, port1, port2, "retransmitted Connected must carry the same dedicated port")
}
