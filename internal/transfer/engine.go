// Package transfer streams a file to a peer as compressed, individually
// acknowledged chunks.
//
// Chunk messages are framed, then passed through a zstd encoder whose output
// is carried as wire segments. Acks come back uncompressed on the raw
// transport. Exactly one chunk is in flight at a time.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"github.com/fruitsalade/fileshare/internal/wire"
)

// ChunkSize is the fixed block size of every chunk but the last. It is
// advertised to peers in FileInfo.
const ChunkSize = 64 * 1024

var (
	// ErrAckMismatch means the peer acknowledged a different chunk.
	ErrAckMismatch = errors.New("ack index mismatch")
	// ErrUnexpectedMessage means the peer sent something other than an Ack.
	ErrUnexpectedMessage = errors.New("unexpected message during transfer")
)

// IsAborted reports whether err ended a transfer because of the peer's
// replies rather than a transport failure. The connection is still usable.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAckMismatch) || errors.Is(err, ErrUnexpectedMessage)
}

// Stats summarizes a transfer.
type Stats struct {
	FirstIndex uint64
	Chunks     int   // chunks acknowledged
	Bytes      int64 // file bytes acknowledged
}

// Options configures an Engine.
type Options struct {
	// Level is the zstd encoder level, 1 (fastest) to 4 (best).
	Level int
	// MaxBandwidth caps file bytes per second; 0 disables the cap.
	MaxBandwidth int64
}

// Engine runs transfers. It holds no per-transfer state and is safe for
// concurrent use; the bandwidth cap, when set, is shared by all transfers.
type Engine struct {
	level   zstd.EncoderLevel
	limiter *rate.Limiter
}

// New creates an Engine.
func New(opts Options) *Engine {
	e := &Engine{level: zstd.SpeedDefault}
	if opts.Level >= 1 && opts.Level <= 4 {
		e.level = zstd.EncoderLevel(opts.Level)
	}
	if opts.MaxBandwidth > 0 {
		burst := int(max(opts.MaxBandwidth, ChunkSize))
		e.limiter = rate.NewLimiter(rate.Limit(opts.MaxBandwidth), burst)
	}
	return e
}

// Send streams src, already positioned at offset, to the peer on rw.
//
// The chunk index starts at offset/ChunkSize. After each chunk Send waits
// for Ack{index}; any other reply aborts with ErrAckMismatch or
// ErrUnexpectedMessage. In both the completed and the aborted case the
// compressed stream is finalized before Send returns, so the caller can
// write its next message on rw. Other errors are transport or file
// failures and leave rw in an undefined state.
func (e *Engine) Send(ctx context.Context, rw io.ReadWriter, src io.Reader, offset uint64) (Stats, error) {
	stats := Stats{FirstIndex: offset / ChunkSize}

	segments := wire.NewSegmentWriter(rw)
	enc, err := zstd.NewWriter(segments,
		zstd.WithEncoderLevel(e.level),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return stats, fmt.Errorf("create encoder: %w", err)
	}

	sendErr := e.stream(ctx, rw, enc, src, &stats)
	if sendErr != nil && !IsAborted(sendErr) {
		return stats, sendErr
	}

	if err := enc.Close(); err != nil {
		return stats, fmt.Errorf("finalize compressed stream: %w", err)
	}
	if err := segments.Close(); err != nil {
		return stats, fmt.Errorf("terminate compressed stream: %w", err)
	}
	return stats, sendErr
}

func (e *Engine) stream(ctx context.Context, rw io.ReadWriter, enc *zstd.Encoder, src io.Reader, stats *Stats) error {
	buf := make([]byte, ChunkSize)
	index := stats.FirstIndex

	for {
		n, err := io.ReadFull(src, buf)
		if n == 0 {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read source: %w", err)
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return fmt.Errorf("read source: %w", err)
		}

		if e.limiter != nil {
			if err := e.limiter.WaitN(ctx, n); err != nil {
				return err
			}
		}

		if err := wire.Send(enc, wire.ChunkResponse(index, buf[:n])); err != nil {
			return fmt.Errorf("send chunk %d: %w", index, err)
		}
		if err := enc.Flush(); err != nil {
			return fmt.Errorf("flush chunk %d: %w", index, err)
		}

		if err := awaitAck(rw, index); err != nil {
			return err
		}
		stats.Chunks++
		stats.Bytes += int64(n)
		index++

		if n < ChunkSize {
			return nil
		}
	}
}

func awaitAck(r io.Reader, index uint64) error {
	var req wire.Request
	if err := wire.Receive(r, &req); err != nil {
		if errors.Is(err, wire.ErrProtocol) {
			return fmt.Errorf("%w: %v", ErrUnexpectedMessage, err)
		}
		return fmt.Errorf("await ack %d: %w", index, err)
	}
	if req.Kind != wire.RequestAck {
		return fmt.Errorf("%w: got %s while waiting for ack %d", ErrUnexpectedMessage, req.Kind, index)
	}
	if req.Index != index {
		return fmt.Errorf("%w: got ack %d, want %d", ErrAckMismatch, req.Index, index)
	}
	return nil
}
