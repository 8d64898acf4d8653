// Package dataplane serves shared files to remote peers over TLS.
//
// Each connection runs a small state machine: one Auth request, then a loop
// of List / Download / Quit requests. Downloads are streamed by the
// transfer engine. Sessions are independent of each other and only share
// the registry.
package dataplane

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/fileshare/internal/logging"
	"github.com/fruitsalade/fileshare/internal/metrics"
	"github.com/fruitsalade/fileshare/internal/registry"
	"github.com/fruitsalade/fileshare/internal/transfer"
	"github.com/fruitsalade/fileshare/internal/wire"
)

// HandshakeTimeout bounds the TLS handshake of a new connection.
const HandshakeTimeout = 10 * time.Second

// Messages sent to peers in Error responses.
const (
	MsgFileNotFound    = "File not found"
	MsgErrorOpening    = "Error opening file"
	MsgErrorReading    = "Error reading file"
	MsgTransferAborted = "Transfer aborted"
)

// Config configures a Server.
type Config struct {
	Password *Password
	Engine   *transfer.Engine
	// Hashes caches whole-file hashes across downloads. Nil creates a
	// default-sized cache.
	Hashes *transfer.HashCache
	// TLS wraps every accepted connection. Nil serves the protocol on the
	// raw connection.
	TLS *tls.Config
}

// Server handles data-plane connections.
type Server struct {
	registry *registry.Registry
	password *Password
	engine   *transfer.Engine
	hashes   *transfer.HashCache
	tls      *tls.Config
}

// NewServer creates a data-plane server reading from reg.
func NewServer(reg *registry.Registry, cfg Config) *Server {
	engine := cfg.Engine
	if engine == nil {
		engine = transfer.New(transfer.Options{})
	}
	hashes := cfg.Hashes
	if hashes == nil {
		hashes = transfer.NewHashCache(0)
	}
	return &Server{
		registry: reg,
		password: cfg.Password,
		engine:   engine,
		hashes:   hashes,
		tls:      cfg.TLS,
	}
}

// ServeConn runs one session on conn and closes it. A failed TLS handshake
// only drops this connection.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ctx = logging.ForSession(ctx, uuid.NewString(), conn.RemoteAddr().String())
	log := logging.WithContext(ctx)

	var rw io.ReadWriter = conn
	if s.tls != nil {
		tlsConn := tls.Server(conn, s.tls)
		hctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
		err := tlsConn.HandshakeContext(hctx)
		cancel()
		if err != nil {
			metrics.RecordTLSHandshakeFailure()
			log.Warn("TLS handshake failed", zap.Error(err))
			return
		}
		rw = tlsConn
	}

	metrics.SessionOpened()
	defer metrics.SessionClosed()

	log.Info("session opened")
	if err := s.ServeSession(ctx, rw); err != nil {
		log.Warn("session closed", zap.Error(err))
		return
	}
	log.Info("session closed")
}

// ServeSession runs the protocol state machine over any ordered, reliable
// byte stream. It returns nil for a normal end (Quit or peer disconnect)
// and an error for auth failures, protocol violations and transport
// failures. The caller owns rw.
func (s *Server) ServeSession(ctx context.Context, rw io.ReadWriter) error {
	sess := &session{
		srv:   s,
		rw:    rw,
		log:   logging.WithContext(ctx),
		state: stateAwaitingAuth,
	}
	return sess.run(ctx)
}

type state int

const (
	stateAwaitingAuth state = iota
	stateReady
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateAwaitingAuth:
		return "awaiting_auth"
	case stateReady:
		return "ready"
	default:
		return "closed"
	}
}

type session struct {
	srv   *Server
	rw    io.ReadWriter
	log   *zap.Logger
	state state
}

func (ss *session) run(ctx context.Context) error {
	for ss.state != stateClosed {
		var err error
		switch ss.state {
		case stateAwaitingAuth:
			err = ss.authenticate()
		case stateReady:
			err = ss.serveRequest(ctx)
		}
		if err != nil {
			ss.state = stateClosed
			return err
		}
	}
	return nil
}

func (ss *session) authenticate() error {
	var req wire.Request
	err := wire.Receive(ss.rw, &req)
	switch {
	case err == io.EOF:
		ss.state = stateClosed
		return nil
	case err != nil && !errors.Is(err, wire.ErrProtocol):
		return fmt.Errorf("read auth: %w", err)
	}
	// an undecodable first message leaves req zero and is refused below

	ok := req.Kind == wire.RequestAuth && ss.srv.password.Matches(req.Password)
	metrics.RecordAuthAttempt(ok)
	if !ok {
		ss.state = stateClosed
		if err := ss.send(wire.Simple(wire.ResponseAuthErr)); err != nil {
			return err
		}
		return ErrAuthFailed
	}

	if err := ss.send(wire.Simple(wire.ResponseAuthOk)); err != nil {
		return err
	}
	ss.state = stateReady
	ss.log.Debug("authenticated")
	return nil
}

func (ss *session) serveRequest(ctx context.Context) error {
	var req wire.Request
	if err := wire.Receive(ss.rw, &req); err != nil {
		if errors.Is(err, wire.ErrProtocol) {
			return err
		}
		// EOF or a broken transport: the peer went away.
		ss.log.Debug("peer disconnected", zap.Error(err))
		ss.state = stateClosed
		return nil
	}

	switch req.Kind {
	case wire.RequestList:
		return ss.send(wire.ListResponse(ss.srv.registry.Names()))
	case wire.RequestDownload:
		return ss.download(ctx, req.Name, req.Offset)
	case wire.RequestQuit:
		ss.state = stateClosed
		return ss.send(wire.Simple(wire.ResponseBye))
	default:
		return fmt.Errorf("%w: %s request in %s state", wire.ErrProtocol, req.Kind, ss.state)
	}
}

func (ss *session) download(ctx context.Context, name string, offset uint64) error {
	log := ss.log.With(zap.String("file", name), zap.Uint64("offset", offset))

	path, ok := ss.srv.registry.Lookup(name)
	if !ok {
		metrics.RecordDownload("not_found")
		log.Info("download of unknown file")
		return ss.send(wire.ErrorResponse(MsgFileNotFound))
	}

	f, err := openRegular(path)
	if err != nil {
		if ss.srv.registry.RemoveIf(name, path) {
			log.Warn("pruned unreadable share", zap.String("path", path), zap.Error(err))
		}
		metrics.RecordDownload("open_error")
		return ss.send(wire.ErrorResponse(MsgErrorOpening))
	}
	defer f.Close()

	info, err := ss.srv.describe(f, path, name)
	if err == nil {
		_, err = f.Seek(int64(min(offset, info.Size)), io.SeekStart)
	}
	if err != nil {
		metrics.RecordDownload("read_error")
		log.Warn("cannot read shared file", zap.String("path", path), zap.Error(err))
		return ss.send(wire.ErrorResponse(MsgErrorReading))
	}

	if err := ss.send(wire.FileInfoResponse(info)); err != nil {
		return err
	}

	start := time.Now()
	stats, err := ss.srv.engine.Send(ctx, ss.rw, f, offset)
	metrics.RecordTransfer(stats.Chunks, stats.Bytes)

	switch {
	case transfer.IsAborted(err):
		metrics.RecordDownload("aborted")
		log.Warn("transfer aborted", zap.Int("chunks", stats.Chunks), zap.Error(err))
		return ss.send(wire.ErrorResponse(MsgTransferAborted))
	case err != nil:
		metrics.RecordDownload("io_error")
		return fmt.Errorf("transfer %s: %w", name, err)
	}

	metrics.RecordDownload("completed")
	log.Info("file sent",
		zap.Uint64("first_chunk", stats.FirstIndex),
		zap.Int("chunks", stats.Chunks),
		zap.Int64("bytes", stats.Bytes),
		zap.Duration("duration", time.Since(start)))
	return ss.send(wire.Simple(wire.ResponseDone))
}

func (ss *session) send(resp wire.Response) error {
	if err := wire.Send(ss.rw, resp); err != nil {
		return fmt.Errorf("send %s: %w", resp.Kind, err)
	}
	return nil
}

// openRegular opens path for reading and rejects anything that is not a
// regular file.
func openRegular(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !st.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	return f, nil
}

func (s *Server) describe(f *os.File, path, name string) (wire.FileInfo, error) {
	st, err := f.Stat()
	if err != nil {
		return wire.FileInfo{}, err
	}
	hash, err := s.hashes.Hash(path, f, st)
	if err != nil {
		return wire.FileInfo{}, err
	}
	return wire.FileInfo{
		Name:      name,
		Size:      uint64(st.Size()),
		Hash:      hash,
		ChunkSize: transfer.ChunkSize,
	}, nil
}
