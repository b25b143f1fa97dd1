package channel

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rudp/pkg/bitio"
	"rudp/pkg/transport"
)

// testPacket is a minimal transport.Packet carrying a single integer
// payload, used to exercise every channel variant without depending on
// any application protocol package.
type testPacket struct {
	id  uint8
	val uint32
}

func (p *testPacket) ID() uint8 { return p.id }
func (p *testPacket) WritePacket(w transport.BitWriter) error {
	w.WriteU32(p.val)
	return nil
}
func (p *testPacket) ReadPacket(r transport.BitReader) error {
	v, err := r.ReadU32()
	if err != nil {
		return err
	}
	p.val = v
	return nil
}

type testFactory struct{ id uint8 }

func (f testFactory) TypeCount() int { return 1 }
func (f testFactory) Create(id uint8) (transport.Packet, error) {
	if id != f.id {
		return nil, fmt.Errorf("unexpected id %d", id)
	}
	return &testPacket{id: id}, nil
}

// wire is a tiny in-process loopback: Send on one side appends the framed
// datagram to a slice a test can feed straight into the other side's
// Receive, skipping the header bytes a real Connection would have
// written ahead of the channel payload.
type wire struct {
	mu     sync.Mutex
	frames [][]byte
}

func (w *wire) send(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := append([]byte(nil), data...)
	w.frames = append(w.frames, cp)
	return nil
}

func (w *wire) drain() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.frames
	w.frames = nil
	return out
}

func noopHeader(w transport.BitWriter, appID uint8) error { return nil }

func TestUnreliableSendReceive(t *testing.T) {
	w := &wire{}
	var delivered []transport.Packet
	var mu sync.Mutex
	deliver := func(pkt transport.Packet) {
		mu.Lock()
		delivered = append(delivered, pkt)
		mu.Unlock()
	}

	u := NewUnreliable(testFactory{id: 5}, noopHeader, w.send, deliver)

	require.NoError(t, u.Send(&testPacket{id: 5, val: 123}))

	frames := w.drain()
	require.Len(t, frames, 1)

	r := bitio.NewReader(frames[0])
	require.NoError(t, u.Receive(r, 5))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 1)
	assert.Equal(t, uint32(123), delivered[0].(*testPacket).val)
}

func TestReliableDeduplicatesOnReceive(t *testing.T) {
	w := &wire{}
	var delivered []transport.Packet
	deliver := func(pkt transport.Packet) { delivered = append(delivered, pkt) }

	c := NewReliable(testFactory{id: 1}, noopHeader, w.send, deliver, time.Hour)

	require.NoError(t, c.Send(&testPacket{id: 1, val: 1}))
	frames := w.drain()
	require.Len(t, frames, 1)

	// Deliver the same frame twice; the second must be dropped silently.
	r1 := bitio.NewReader(frames[0])
	require.NoError(t, c.Receive(r1, 1))
	r2 := bitio.NewReader(frames[0])
	require.NoError(t, c.Receive(r2, 1))

	assert.Len(t, delivered, 1)
}

func TestReliableAckRemovesFromUnackedStore(t *testing.T) {
	w := &wire{}
	c := NewReliable(testFactory{id: 1}, noopHeader, w.send, func(transport.Packet) {}, time.Millisecond)

	require.NoError(t, c.Send(&testPacket{id: 1, val: 1}))
	require.Len(t, c.core.unacked, 1)

	c.core.processAck(0, 1) // ack base=0, bit 0 set -> acks seq 0
	assert.Len(t, c.core.unacked, 0)
}

func TestReliableResendsUnackedOnTick(t *testing.T) {
	w := &wire{}
	c := NewReliable(testFactory{id: 1}, noopHeader, w.send, func(transport.Packet) {}, time.Millisecond)

	require.NoError(t, c.Send(&testPacket{id: 1, val: 1}))
	w.drain() // discard the original send

	time.Sleep(5 * time.Millisecond)
	c.Tick(time.Now())

	frames := w.drain()
	assert.Len(t, frames, 1, "expected the unacked frame to be resent")
}

func TestOrderedReliableDeliversInOrderDespiteReordering(t *testing.T) {
	sender := &wire{}
	sendCh := NewOrderedReliable(testFactory{id: 2}, noopHeader, sender.send, func(transport.Packet) {}, time.Hour, 16)

	for i := 0; i < 3; i++ {
		require.NoError(t, sendCh.Send(&testPacket{id: 2, val: uint32(i)}))
	}
	frames := sender.drain()
	require.Len(t, frames, 3)

	var delivered []uint32
	recvCh := NewOrderedReliable(testFactory{id: 2}, noopHeader, func([]byte) error { return nil },
		func(pkt transport.Packet) { delivered = append(delivered, pkt.(*testPacket).val) }, time.Hour, 16)

	// Feed seq 0, then 2, then 1 — packet 2 should buffer until 1 arrives.
	order := []int{0, 2, 1}
	for _, idx := range order {
		r := bitio.NewReader(frames[idx])
		require.NoError(t, recvCh.Receive(r, 2))
	}

	assert.Equal(t, []uint32{0, 1, 2}, delivered)
}

func TestOrderedReliableBuffersOutOfOrderArrival(t *testing.T) {
	sender := &wire{}
	sendCh := NewOrderedReliable(testFactory{id: 2}, noopHeader, sender.send, func(transport.Packet) {}, time.Hour, 16)
	for i := 0; i < 2; i++ {
		require.NoError(t, sendCh.Send(&testPacket{id: 2, val: uint32(i)}))
	}
	frames := sender.drain()
	require.Len(t, frames, 2)

	var delivered []uint32
	recvCh := NewOrderedReliable(testFactory{id: 2}, noopHeader, func([]byte) error { return nil },
		func(pkt transport.Packet) { delivered = append(delivered, pkt.(*testPacket).val) }, time.Hour, 16)

	// seq 1 arrives first: nothing should be delivered yet.
	r := bitio.NewReader(frames[1])
	require.NoError(t, recvCh.Receive(r, 2))
	assert.Empty(t, delivered)
	assert.Len(t, recvCh.buffer, 1)

	// seq 0 arrives: both should now flush in order.
	r0 := bitio.NewReader(frames[0])
	require.NoError(t, recvCh.Receive(r0, 2))
	assert.Equal(t, []uint32{0, 1}, delivered)
	assert.Empty(t, recvCh.buffer)
}

func TestOrderedReliableSkipsGapWhenBufferFull(t *testing.T) {
	recvCh := NewOrderedReliable(testFactory{id: 2}, noopHeader, func([]byte) error { return nil },
		func(transport.Packet) {}, time.Hour, 2)

	// Fill the reorder buffer to capacity with sequences 2 and 3,
	// skipping the still-missing 0 and 1.
	recvCh.admit(2, &testPacket{id: 2, val: 2})
	recvCh.admit(3, &testPacket{id: 2, val: 3})

	// A third out-of-order arrival should force the overflow policy to
	// jump the cursor rather than grow the buffer unbounded.
	delivered := recvCh.admit(4, &testPacket{id: 2, val: 4})

	assert.LessOrEqual(t, len(recvCh.buffer), 2)
	_ = delivered
}
