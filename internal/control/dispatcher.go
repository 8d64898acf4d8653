// Package control implements the local control plane: a unix-socket
// listener that decodes one command per connection and a single dispatcher
// that applies commands to the registry strictly in order.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/fileshare/internal/logging"
	"github.com/fruitsalade/fileshare/internal/metrics"
	"github.com/fruitsalade/fileshare/internal/registry"
	"github.com/fruitsalade/fileshare/internal/wire"
)

// DefaultQueueSize is the dispatcher queue capacity used when none is set.
const DefaultQueueSize = 32

// Reply texts.
const (
	MsgNotRunning      = "Daemon not running"
	MsgFailedToRespond = "Daemon failed to respond"
	MsgFileAdded       = "File added"
)

var (
	// ErrNotRunning means the dispatcher is stopped and accepts no commands.
	ErrNotRunning = errors.New("dispatcher not running")
	// ErrNoResponse means a command was accepted but its reply slot was
	// dropped without an answer.
	ErrNoResponse = errors.New("dispatcher dropped reply")
)

type job struct {
	cmd   wire.Command
	reply chan wire.Reply
}

// Dispatcher owns the control-plane queue. Commands are applied one at a
// time by the goroutine running Run.
type Dispatcher struct {
	registry *registry.Registry
	queue    chan job
	done     chan struct{}
	stop     sync.Once

	// apply executes one command; replaced in tests.
	apply func(wire.Command) wire.Reply
}

// NewDispatcher creates a dispatcher over reg with the given queue capacity.
func NewDispatcher(reg *registry.Registry, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		registry: reg,
		queue:    make(chan job, queueSize),
		done:     make(chan struct{}),
	}
	d.apply = d.Apply
	return d
}

// Run consumes the queue until ctx is cancelled. Commands still queued
// when it stops are dropped unanswered. Run must be called at most once.
func (d *Dispatcher) Run(ctx context.Context) error {
	logging.Info("control dispatcher started")
	defer d.shutdown()

	for {
		if ctx.Err() != nil {
			logging.Info("control dispatcher stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			logging.Info("control dispatcher stopped")
			return nil
		case j := <-d.queue:
			metrics.SetControlQueueDepth(len(d.queue))
			d.handle(j)
		}
	}
}

func (d *Dispatcher) shutdown() {
	d.stop.Do(func() { close(d.done) })
	for {
		select {
		case j := <-d.queue:
			close(j.reply)
		default:
			metrics.SetControlQueueDepth(0)
			return
		}
	}
}

func (d *Dispatcher) handle(j job) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("control command panicked",
				zap.Stringer("command", j.cmd.Kind),
				zap.Any("panic", r))
			close(j.reply)
		}
	}()
	// reply is buffered, a vanished submitter never blocks the loop
	j.reply <- d.apply(j.cmd)
}

// Submit queues cmd and waits for its reply.
func (d *Dispatcher) Submit(ctx context.Context, cmd wire.Command) (wire.Reply, error) {
	select {
	case <-d.done:
		return wire.Reply{}, ErrNotRunning
	default:
	}

	j := job{cmd: cmd, reply: make(chan wire.Reply, 1)}
	select {
	case d.queue <- j:
		metrics.SetControlQueueDepth(len(d.queue))
	case <-d.done:
		return wire.Reply{}, ErrNotRunning
	case <-ctx.Done():
		return wire.Reply{}, ctx.Err()
	}

	select {
	case reply, ok := <-j.reply:
		if !ok {
			return wire.Reply{}, ErrNoResponse
		}
		return reply, nil
	case <-d.done:
		select {
		case reply, ok := <-j.reply:
			if ok {
				return reply, nil
			}
		default:
		}
		return wire.Reply{}, ErrNoResponse
	case <-ctx.Done():
		return wire.Reply{}, ctx.Err()
	}
}

// Apply executes one command against the registry. It is only called from
// the dispatcher goroutine.
func (d *Dispatcher) Apply(cmd wire.Command) wire.Reply {
	switch cmd.Kind {
	case wire.CommandAdd:
		name := cmd.Name
		if name == "" {
			derived, err := registry.DeriveName(cmd.Path)
			if err != nil {
				return wire.ErrReply(err.Error())
			}
			name = derived
		}
		d.registry.Add(name, cmd.Path)
		logging.Info("file shared", zap.String("name", name), zap.String("path", cmd.Path))
		return wire.OkReply(MsgFileAdded)
	case wire.CommandDelete:
		d.registry.Remove(cmd.Name)
		logging.Info("file unshared", zap.String("name", cmd.Name))
		return wire.OkReply(fmt.Sprintf("File '%s' deleted", cmd.Name))
	case wire.CommandList:
		return wire.ListReply(d.registry.List())
	default:
		return wire.ErrReply(fmt.Sprintf("unknown command %s", cmd.Kind))
	}
}
