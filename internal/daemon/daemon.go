// Package daemon wires the registry, both listeners, the control
// dispatcher and the optional metrics endpoint into one process, and
// manages that process's PID file.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/fileshare/internal/config"
	"github.com/fruitsalade/fileshare/internal/control"
	"github.com/fruitsalade/fileshare/internal/dataplane"
	"github.com/fruitsalade/fileshare/internal/listener"
	"github.com/fruitsalade/fileshare/internal/logging"
	"github.com/fruitsalade/fileshare/internal/metrics"
	"github.com/fruitsalade/fileshare/internal/registry"
	"github.com/fruitsalade/fileshare/internal/tlsprov"
	"github.com/fruitsalade/fileshare/internal/transfer"
)

// Options configures Run.
type Options struct {
	Config   *config.Config
	Port     int
	Password *string

	// Bound, if set, is called with each listener's address once it is
	// bound.
	Bound func(service string, addr net.Addr)
}

// Run starts the daemon and blocks until ctx is cancelled or a component
// fails. Sessions in flight at shutdown are not drained.
func Run(ctx context.Context, opts Options) (err error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	pidFile, err := AcquirePIDFile(cfg.PIDFile)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, pidFile.Release()) }()

	tlsCfg, err := tlsprov.LoadOrGenerate(config.ExpandHome(cfg.CertFile), config.ExpandHome(cfg.KeyFile))
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	password, err := dataplane.NewPassword(opts.Password)
	if err != nil {
		return fmt.Errorf("password: %w", err)
	}

	reg := registry.New()
	engine := transfer.New(transfer.Options{
		Level:        cfg.CompressionLevel,
		MaxBandwidth: cfg.MaxBandwidth,
	})
	data := dataplane.NewServer(reg, dataplane.Config{
		Password: password,
		Engine:   engine,
		TLS:      tlsCfg,
	})
	dispatcher := control.NewDispatcher(reg, cfg.ControlQueueSize)
	ctrl := control.NewServer(dispatcher, cfg.ControlReadTimeout)

	var socketInfo os.FileInfo
	bindSocket := func() (net.Listener, error) {
		ln, err := control.BindUnix(cfg.SocketPath)
		if err != nil {
			return nil, err
		}
		if socketInfo, err = os.Lstat(cfg.SocketPath); err != nil {
			ln.Close()
			return nil, err
		}
		return ln, nil
	}
	defer func() {
		if socketInfo != nil {
			err = multierr.Append(err, removeIfSame(cfg.SocketPath, socketInfo))
		}
	}()

	dataAddr := net.JoinHostPort(cfg.ListenHost, strconv.Itoa(opts.Port))
	services := []listener.Service{
		{
			Name:    "data",
			Bind:    opts.bound("data", func() (net.Listener, error) { return net.Listen("tcp", dataAddr) }),
			Handler: data,
		},
		{
			Name:    "control",
			Bind:    opts.bound("control", bindSocket),
			Handler: ctrl,
		},
	}

	logging.Info("daemon starting",
		zap.Int("pid", os.Getpid()),
		zap.String("data_addr", dataAddr),
		zap.String("socket", cfg.SocketPath),
		zap.Bool("password", opts.Password != nil))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return listener.Run(gctx, services...) })
	if cfg.MetricsAddr != "" {
		startMetrics(gctx, g, cfg.MetricsAddr)
	}

	err = g.Wait()
	logging.Info("daemon stopped", zap.Error(err))
	return err
}

func (o Options) bound(name string, bind func() (net.Listener, error)) func() (net.Listener, error) {
	return func() (net.Listener, error) {
		ln, err := bind()
		if err == nil && o.Bound != nil {
			o.Bound(name, ln.Addr())
		}
		return ln, err
	}
}

func startMetrics(ctx context.Context, g *errgroup.Group, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logging.Info("metrics server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Close()
	})
}
