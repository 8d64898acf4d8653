// Package client talks to a fileshare daemon's data plane: it dials over
// TLS with retry, authenticates, lists shared files and downloads them with
// resume and hash verification.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/fruitsalade/fileshare/internal/logging"
	"github.com/fruitsalade/fileshare/internal/retry"
	"github.com/fruitsalade/fileshare/internal/transfer"
	"github.com/fruitsalade/fileshare/internal/wire"
)

var (
	// ErrAuthFailed is returned when the daemon rejects the password.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrHashMismatch is returned when a downloaded file does not match
	// the hash the daemon advertised.
	ErrHashMismatch = errors.New("hash mismatch")
)

// RemoteError is an Error response sent by the daemon.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "daemon: " + e.Message }

// Config holds client configuration.
type Config struct {
	Addr        string
	Password    *string
	TLS         *tls.Config
	DialTimeout time.Duration
	RetryConfig retry.Config
}

// Client is an authenticated data-plane session. It is not safe for
// concurrent use.
type Client struct {
	conn net.Conn
	addr string
}

// Dial connects to cfg.Addr, retrying connection failures, and
// authenticates.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.RetryConfig.OnRetry == nil {
		cfg.RetryConfig.OnRetry = func(attempt int, wait time.Duration, err error) {
			logging.Debug("dial failed, retrying",
				zap.String("addr", cfg.Addr),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}
	}
	tlsCfg := cfg.TLS
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS13, InsecureSkipVerify: true}
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: cfg.DialTimeout},
		Config:    tlsCfg,
	}
	conn, err := retry.DoWithResult(ctx, cfg.RetryConfig, func() (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) && opErr.Op == "dial" {
				return nil, retry.Retryable(err)
			}
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Addr, err)
	}

	c := &Client{conn: conn, addr: cfg.Addr}
	if err := c.auth(ctx, cfg.Password); err != nil {
		conn.Close()
		return nil, err
	}
	logging.Debug("connected", zap.String("addr", cfg.Addr))
	return c, nil
}

func (c *Client) auth(ctx context.Context, password *string) error {
	resp, err := c.roundTrip(ctx, wire.AuthRequest(password))
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	switch resp.Kind {
	case wire.ResponseAuthOk:
		return nil
	case wire.ResponseAuthErr:
		return ErrAuthFailed
	default:
		return unexpected(resp)
	}
}

// List returns the names the daemon shares, sorted.
func (c *Client) List(ctx context.Context) ([]string, error) {
	resp, err := c.roundTrip(ctx, wire.ListRequest())
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	if resp.Kind != wire.ResponseList {
		return nil, unexpected(resp)
	}
	return resp.Names, nil
}

// Download streams name starting at offset into w, which receives the
// bytes from offset on. It returns the daemon's FileInfo for the whole
// file. Offset should be a multiple of transfer.ChunkSize.
func (c *Client) Download(ctx context.Context, name string, offset uint64, w io.Writer) (wire.FileInfo, error) {
	stop := c.watch(ctx)
	defer stop()

	if err := wire.Send(c.conn, wire.DownloadRequest(name, offset)); err != nil {
		return wire.FileInfo{}, c.ctxErr(ctx, err)
	}
	var resp wire.Response
	if err := wire.Receive(c.conn, &resp); err != nil {
		return wire.FileInfo{}, c.ctxErr(ctx, err)
	}
	if resp.Kind != wire.ResponseFileInfo {
		return wire.FileInfo{}, unexpected(resp)
	}
	info := resp.Info

	if err := c.receiveChunks(info, offset, w); err != nil {
		return info, c.ctxErr(ctx, err)
	}

	if err := wire.Receive(c.conn, &resp); err != nil {
		return info, c.ctxErr(ctx, err)
	}
	if resp.Kind != wire.ResponseDone {
		return info, unexpected(resp)
	}
	return info, nil
}

func (c *Client) receiveChunks(info wire.FileInfo, offset uint64, w io.Writer) error {
	chunkSize := info.ChunkSize
	if chunkSize == 0 {
		chunkSize = transfer.ChunkSize
	}
	next := offset / chunkSize

	segments := wire.NewSegmentReader(c.conn)
	dec, err := zstd.NewReader(segments, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return err
	}
	defer dec.Close()

	for {
		var msg wire.Response
		err := wire.Receive(dec, &msg)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("decode chunk: %w", err)
		}
		if msg.Kind != wire.ResponseChunk || msg.Index != next {
			return fmt.Errorf("%w: expected chunk %d, got %s %d", wire.ErrProtocol, next, msg.Kind, msg.Index)
		}
		if _, err := w.Write(msg.Data); err != nil {
			return fmt.Errorf("write chunk %d: %w", msg.Index, err)
		}
		if err := wire.Send(c.conn, wire.AckRequest(msg.Index)); err != nil {
			return err
		}
		next++
	}
	return segments.Drain()
}

// DownloadFile downloads name into path. An existing file at path is
// resumed from its last whole chunk. After the transfer the file is
// hashed and checked against the daemon's hash.
func (c *Client) DownloadFile(ctx context.Context, name, path string) (info wire.FileInfo, err error) {
	_, statErr := os.Stat(path)
	created := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return wire.FileInfo{}, err
	}
	defer func() {
		f.Close()
		if err != nil && created {
			removeIfEmpty(path)
		}
	}()

	st, err := f.Stat()
	if err != nil {
		return wire.FileInfo{}, err
	}
	offset := uint64(st.Size()) / transfer.ChunkSize * transfer.ChunkSize
	if err := f.Truncate(int64(offset)); err != nil {
		return wire.FileInfo{}, err
	}
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		return wire.FileInfo{}, err
	}
	if offset > 0 {
		logging.Info("resuming download", zap.String("file", name), zap.Uint64("offset", offset))
	}

	info, err = c.Download(ctx, name, offset, f)
	if err != nil {
		return info, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return info, err
	}
	sum, err := transfer.Hash(f)
	if err != nil {
		return info, fmt.Errorf("hash %s: %w", path, err)
	}
	if sum != info.Hash {
		return info, fmt.Errorf("%w: %s: got %s, want %s", ErrHashMismatch, name, sum, info.Hash)
	}
	return info, nil
}

// removeIfEmpty drops a file created for a download that produced no data.
func removeIfEmpty(path string) {
	if st, err := os.Stat(path); err == nil && st.Size() == 0 {
		os.Remove(path)
	}
}

// Quit ends the session politely and closes the connection.
func (c *Client) Quit(ctx context.Context) error {
	defer c.conn.Close()
	resp, err := c.roundTrip(ctx, wire.QuitRequest())
	if err != nil {
		return fmt.Errorf("quit: %w", err)
	}
	if resp.Kind != wire.ResponseBye {
		return unexpected(resp)
	}
	return nil
}

// Close closes the connection without saying goodbye.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) roundTrip(ctx context.Context, req wire.Request) (wire.Response, error) {
	stop := c.watch(ctx)
	defer stop()

	if err := wire.Send(c.conn, req); err != nil {
		return wire.Response{}, c.ctxErr(ctx, err)
	}
	var resp wire.Response
	if err := wire.Receive(c.conn, &resp); err != nil {
		return wire.Response{}, c.ctxErr(ctx, err)
	}
	return resp, nil
}

// watch applies ctx's deadline to the connection and interrupts blocked
// I/O when ctx is cancelled.
func (c *Client) watch(ctx context.Context) func() {
	deadline, _ := ctx.Deadline()
	c.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
		c.conn.SetDeadline(time.Time{})
	}
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func unexpected(resp wire.Response) error {
	if resp.Kind == wire.ResponseError {
		return &RemoteError{Message: resp.Message}
	}
	return fmt.Errorf("%w: unexpected %s response", wire.ErrProtocol, resp.Kind)
}
