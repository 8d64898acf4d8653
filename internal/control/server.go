package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/fileshare/internal/logging"
	"github.com/fruitsalade/fileshare/internal/metrics"
	"github.com/fruitsalade/fileshare/internal/wire"
)

// DefaultReadTimeout bounds how long a control client may take to send
// its command.
const DefaultReadTimeout = 10 * time.Second

// Server answers control connections by submitting their command to a
// Dispatcher.
type Server struct {
	dispatcher  *Dispatcher
	readTimeout time.Duration
}

// NewServer creates a control server. A non-positive readTimeout uses
// DefaultReadTimeout.
func NewServer(d *Dispatcher, readTimeout time.Duration) *Server {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Server{dispatcher: d, readTimeout: readTimeout}
}

// ServeConn reads one command from conn, waits for the dispatcher's reply
// and writes it back.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		logging.Warn("control: set deadline", zap.Error(err))
	}

	var cmd wire.Command
	if err := wire.Receive(conn, &cmd); err != nil {
		metrics.RecordControlCommand("invalid", false)
		logging.Warn("control: invalid command", zap.Error(err))
		s.reply(conn, wire.ErrReply(fmt.Sprintf("Invalid command: %v", err)))
		return
	}

	reply, err := s.dispatcher.Submit(ctx, cmd)
	switch {
	case errors.Is(err, ErrNoResponse):
		reply = wire.ErrReply(MsgFailedToRespond)
	case err != nil:
		reply = wire.ErrReply(MsgNotRunning)
	}

	ok := reply.Kind != wire.ReplyErr
	metrics.RecordControlCommand(cmd.Kind.String(), ok)
	if ok {
		logging.Debug("control command applied", zap.Stringer("command", cmd.Kind))
	} else {
		logging.Warn("control command failed",
			zap.Stringer("command", cmd.Kind),
			zap.String("reason", reply.Text))
	}
	s.reply(conn, reply)
}

func (s *Server) reply(conn net.Conn, r wire.Reply) {
	if err := wire.Send(conn, r); err != nil {
		logging.Debug("control: write reply", zap.Error(err))
	}
}

// BindUnix listens on a unix socket at path, removing a stale socket left
// by a previous run. The socket is only accessible to its owner. Closing the
// listener does not remove the socket file.
func BindUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	// the path may belong to a newer daemon by the time this one closes
	if ul, ok := ln.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
	return ln, nil
}

// Send delivers cmd to the daemon listening on socketPath and returns its
// reply. A dial failure wraps ErrNotRunning.
func Send(ctx context.Context, socketPath string, cmd wire.Command) (wire.Reply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return wire.Reply{}, fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if err := wire.Send(conn, cmd); err != nil {
		return wire.Reply{}, fmt.Errorf("send command: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		uc.CloseWrite()
	}

	var reply wire.Reply
	if err := wire.Receive(conn, &reply); err != nil {
		return wire.Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
