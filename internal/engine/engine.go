// Package engine implements C5 Engine (§4.5): the single-threaded event
// loop that reconciles control requests, child exits, and timers. All
// supervision state - groups, instances, pending reloads - lives here;
// no other package mutates it. ControlServer and AttachMux talk to the
// loop only through the thread-safe request channel (§5), never by
// reaching into engine state directly.
package engine

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"taskmasterd/internal/alert"
	"taskmasterd/internal/config"
	"taskmasterd/internal/group"
	"taskmasterd/internal/instance"
)

const reconcileInterval = 100 * time.Millisecond

// Engine is the global registry of groups/instances plus the loop that
// drives them (§3 "Engine state").
type Engine struct {
	log       logrus.FieldLogger
	alertSink alert.Sink

	configPath string

	groups    map[string]*group.Group
	instances map[string]*instance.Instance // indexed_name -> instance
	pids      map[int]*instance.Instance

	pendingReloads map[string]*pendingReload

	requests chan *request
	sigChan  chan os.Signal

	// doneCh is closed once Run returns, letting callers (e.g. tests)
	// block until a clean shutdown completes.
	doneCh chan struct{}

	// snapshotMu is not locked by any Engine method; live state is
	// only mutated on the loop goroutine.
	snapshotMu sync.Mutex

	shutdownSignal syscall.Signal
}

type pendingReload struct {
	newSpec      *config.ProgramSpec // nil means the program was removed
	wasRunning   bool
	oldInstances []*instance.Instance
}

// New builds an Engine from an already-validated config table (§6). It
// does not start the loop; call Run for that.
func New(table config.Table, configPath string, log logrus.FieldLogger, sink alert.Sink) *Engine {
	e := &Engine{
		log:            log,
		alertSink:      sink,
		configPath:     configPath,
		groups:         make(map[string]*group.Group),
		instances:      make(map[string]*instance.Instance),
		pids:           make(map[int]*instance.Instance),
		pendingReloads: make(map[string]*pendingReload),
		requests:       make(chan *request),
		sigChan:        make(chan os.Signal, 16),
		doneCh:         make(chan struct{}),
	}
	for name, spec := range table {
		e.registerNewGroup(name, spec)
	}
	return e
}

func (e *Engine) registerNewGroup(name string, spec *config.ProgramSpec) *group.Group {
	g := group.New(spec)
	e.groups[name] = g
	for _, inst := range g.Instances {
		e.instances[inst.IndexedName] = inst
	}
	return g
}

func (e *Engine) setupSignals() {
	signal.Notify(e.sigChan, syscall.SIGCHLD, syscall.SIGINT, syscall.SIGTERM)
}

// Run starts every autostart program and enters the event loop. It
// returns once a clean SIGINT/SIGTERM shutdown completes.
func (e *Engine) Run() error {
	e.setupSignals()
	defer close(e.doneCh)

	for name, g := range e.groups {
		if g.Spec.AutoStart {
			e.log.WithField("program", name).Info("autostarting program")
			e.startGroup(g)
		}
	}

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case req := <-e.requests:
			e.handle(req)

		case sig := <-e.sigChan:
			switch sig {
			case syscall.SIGCHLD:
				e.reapAndHandle()
			case syscall.SIGINT, syscall.SIGTERM:
				sigNotify, _ := sig.(syscall.Signal)
				e.shutdownSignal = sigNotify
				e.log.WithField("signal", sigNotify).Info("received shutdown signal, stopping all instances")
				e.shutdown()
				return nil
			}

		case <-ticker.C:
			e.reapAndHandle()
			e.reconcileTimers()
		}
	}
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.doneCh }

// ShutdownSignal reports which signal triggered the last shutdown, once
// Done has fired. It is the zero Signal if Run hasn't returned yet.
func (e *Engine) ShutdownSignal() syscall.Signal { return e.shutdownSignal }
