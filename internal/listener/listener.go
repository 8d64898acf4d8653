// Package listener is the bind + accept loop shared by the daemon's data
// and control planes.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/fileshare/internal/logging"
)

// Handler serves one accepted connection. It owns conn and must close it.
type Handler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn net.Conn)

// ServeConn calls f(ctx, conn).
func (f HandlerFunc) ServeConn(ctx context.Context, conn net.Conn) { f(ctx, conn) }

// Service describes one listening endpoint.
type Service struct {
	Name    string
	Bind    func() (net.Listener, error)
	Handler Handler
}

const (
	minBackoff = 5 * time.Millisecond
	maxBackoff = time.Second
)

// Serve accepts connections on ln until ctx is cancelled, handing each to
// h on its own goroutine. It closes ln and returns nil on cancellation.
// In-flight connections are not waited for.
func Serve(ctx context.Context, name string, ln net.Listener, h Handler) error {
	log := logging.L().With(zap.String("listener", name), zap.String("addr", ln.Addr().String()))

	var closeOnce sync.Once
	closeLn := func() { closeOnce.Do(func() { ln.Close() }) }
	defer closeLn()

	stop := context.AfterFunc(ctx, closeLn)
	defer stop()

	log.Info("listening")
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Info("listener stopped")
				return nil
			}
			if !errors.Is(err, net.ErrClosed) {
				backoff = nextBackoff(backoff)
				log.Warn("accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			return fmt.Errorf("%s accept: %w", name, err)
		}
		backoff = 0
		go h.ServeConn(ctx, conn)
	}
}

// Run binds every service and serves them until ctx is cancelled or one
// of them fails. Binding happens before any service starts accepting, so
// a bind error is returned without serving anything.
func Run(ctx context.Context, services ...Service) error {
	listeners := make([]net.Listener, 0, len(services))
	for _, svc := range services {
		ln, err := svc.Bind()
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return fmt.Errorf("bind %s: %w", svc.Name, err)
		}
		listeners = append(listeners, ln)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, svc := range services {
		ln := listeners[i]
		g.Go(func() error { return Serve(gctx, svc.Name, ln, svc.Handler) })
	}
	return g.Wait()
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minBackoff
	}
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
