package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/fruitsalade/fileshare/internal/wire"
)

type received struct {
	indices []uint64
	data    []byte
	err     error
	next    wire.Response // first raw message after the compressed stream
}

// peer plays the downloading side: it decodes chunks from the compressed
// segment stream and acks each one with ackFor(index).
func peer(conn net.Conn, ackFor func(uint64) wire.Request) <-chan received {
	out := make(chan received, 1)
	go func() {
		var res received
		defer func() { out <- res }()

		segments := wire.NewSegmentReader(conn)
		dec, err := zstd.NewReader(segments, zstd.WithDecoderConcurrency(1))
		if err != nil {
			res.err = err
			return
		}
		defer dec.Close()

		for {
			var msg wire.Response
			err := wire.Receive(dec, &msg)
			if err == io.EOF {
				break
			}
			if err != nil {
				res.err = err
				return
			}
			res.indices = append(res.indices, msg.Index)
			res.data = append(res.data, msg.Data...)
			if err := wire.Send(conn, ackFor(msg.Index)); err != nil {
				res.err = err
				return
			}
		}
		if err := segments.Drain(); err != nil {
			res.err = err
			return
		}
		res.err = wire.Receive(conn, &res.next)
	}()
	return out
}

func ackAll(i uint64) wire.Request { return wire.AckRequest(i) }

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

func runSend(t *testing.T, e *Engine, src []byte, offset uint64, ackFor func(uint64) wire.Request) (Stats, error, received) {
	t.Helper()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	results := peer(client, ackFor)
	stats, err := e.Send(context.Background(), server, bytes.NewReader(src[offset:]), offset)
	if werr := wire.Send(server, wire.Simple(wire.ResponseDone)); werr != nil {
		t.Fatalf("send done: %v", werr)
	}

	select {
	case res := <-results:
		return stats, err, res
	case <-time.After(5 * time.Second):
		t.Fatal("peer did not finish")
	}
	return stats, err, received{}
}

func TestSendWholeFile(t *testing.T) {
	src := randomBytes(3*ChunkSize + 100)
	stats, err, res := runSend(t, New(Options{}), src, 0, ackAll)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.err != nil {
		t.Fatalf("peer: %v", res.err)
	}
	if stats.Chunks != 4 || stats.Bytes != int64(len(src)) {
		t.Errorf("unexpected stats %+v", stats)
	}
	if !bytes.Equal(res.data, src) {
		t.Error("received data differs from source")
	}
	want := []uint64{0, 1, 2, 3}
	for i, idx := range want {
		if res.indices[i] != idx {
			t.Fatalf("expected indices %v, got %v", want, res.indices)
		}
	}
	if res.next.Kind != wire.ResponseDone {
		t.Errorf("expected Done after compressed stream, got %s", res.next.Kind)
	}
}

func TestSendFromOffsetKeepsGlobalIndices(t *testing.T) {
	src := randomBytes(10 * ChunkSize)
	offset := uint64(3 * ChunkSize)
	stats, err, res := runSend(t, New(Options{Level: 1}), src, offset, ackAll)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.err != nil {
		t.Fatalf("peer: %v", res.err)
	}
	if stats.FirstIndex != 3 || res.indices[0] != 3 {
		t.Fatalf("expected first index 3, got stats=%d peer=%v", stats.FirstIndex, res.indices)
	}
	if len(res.indices) != 7 || res.indices[6] != 9 {
		t.Errorf("expected indices 3..9, got %v", res.indices)
	}
	if !bytes.Equal(res.data, src[offset:]) {
		t.Error("received data differs from the remainder")
	}
}

func TestSendEmptyRemainder(t *testing.T) {
	src := randomBytes(ChunkSize)
	stats, err, res := runSend(t, New(Options{}), src, ChunkSize, ackAll)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.err != nil {
		t.Fatalf("peer: %v", res.err)
	}
	if stats.Chunks != 0 || len(res.indices) != 0 {
		t.Errorf("expected no chunks, got %+v / %v", stats, res.indices)
	}
	if res.next.Kind != wire.ResponseDone {
		t.Errorf("expected Done, got %s", res.next.Kind)
	}
}

func TestWrongAckAbortsButKeepsStreamInSync(t *testing.T) {
	src := randomBytes(5 * ChunkSize)
	wrongAt := func(i uint64) wire.Request {
		if i == 1 {
			return wire.AckRequest(42)
		}
		return wire.AckRequest(i)
	}
	stats, err, res := runSend(t, New(Options{}), src, 0, wrongAt)
	if !errors.Is(err, ErrAckMismatch) {
		t.Fatalf("expected ErrAckMismatch, got %v", err)
	}
	if !IsAborted(err) {
		t.Error("ack mismatch should count as aborted")
	}
	if res.err != nil {
		t.Fatalf("peer: %v", res.err)
	}
	if len(res.indices) != 2 {
		t.Errorf("expected sends to stop after chunk 1, got %v", res.indices)
	}
	if stats.Chunks != 1 {
		t.Errorf("expected 1 acknowledged chunk, got %d", stats.Chunks)
	}
	if res.next.Kind != wire.ResponseDone {
		t.Errorf("expected the raw channel to stay usable, got %s", res.next.Kind)
	}
}

func TestNonAckAborts(t *testing.T) {
	src := randomBytes(2 * ChunkSize)
	quit := func(uint64) wire.Request { return wire.QuitRequest() }
	_, err, res := runSend(t, New(Options{}), src, 0, quit)
	if !errors.Is(err, ErrUnexpectedMessage) {
		t.Fatalf("expected ErrUnexpectedMessage, got %v", err)
	}
	if res.err != nil {
		t.Fatalf("peer: %v", res.err)
	}
	if len(res.indices) != 1 {
		t.Errorf("expected a single chunk before abort, got %v", res.indices)
	}
}

func TestPeerGoneIsTransportError(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		// read the first segment then hang up
		_, _ = wire.ReadFrame(client)
		client.Close()
	}()

	_, err := New(Options{}).Send(context.Background(), server, bytes.NewReader(randomBytes(2*ChunkSize)), 0)
	if err == nil {
		t.Fatal("expected error when peer disconnects")
	}
	if IsAborted(err) {
		t.Errorf("disconnect must not be reported as an aborted transfer: %v", err)
	}
}

func TestBandwidthCapStillDelivers(t *testing.T) {
	src := randomBytes(2 * ChunkSize)
	_, err, res := runSend(t, New(Options{MaxBandwidth: 4 * ChunkSize}), src, 0, ackAll)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !bytes.Equal(res.data, src) {
		t.Error("received data differs from source")
	}
}
