package service

import (
	"context"
	"errors"
	"sync"

	"github.com/josepot/smoldot/libs/log"
)

var (
	// ErrAlreadyStarted is returned when somebody tries to start an already
	// running service.
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped is returned when somebody tries to stop an already
	// stopped service.
	ErrAlreadyStopped = errors.New("already stopped")
	// ErrNotStarted is returned when somebody tries to stop a not running
	// service.
	ErrNotStarted = errors.New("not started")
)

// Service defines a service that can be started and stopped.
type Service interface {
	// Start is called to start the service, which should run until
	// the context terminates. If the service is already running, Start
	// must report an error.
	Start(context.Context) error

	// Stop the service explicitly. Services are also stopped when the
	// context passed to Start is canceled.
	Stop()

	// Return true if the service is running
	IsRunning() bool

	// String representation of the service
	String() string

	// Wait blocks until the service is stopped.
	Wait()
}

// Implementation describes the implementation that the
// BaseService implementation wraps.
type Implementation interface {
	// Called by the Services Start Method
	OnStart(context.Context) error

	// Called when the service's context is canceled.
	OnStop()
}

/*
BaseService provides the start/stop bookkeeping shared by the syncer, the
rpc server and the node.

Users implement OnStart/OnStop. OnStart is called at most once per
successful Start; OnStop exactly once, either when Stop is called or when the
context passed to Start is canceled, whichever happens first.

Typical usage:

	type Syncer struct {
		service.BaseService
		// private fields
	}

	func NewSyncer(logger log.Logger) *Syncer {
		s := &Syncer{}
		s.BaseService = *service.NewBaseService(logger, "Syncer", s)
		return s
	}

	func (s *Syncer) OnStart(ctx context.Context) error {
		go s.routine(ctx)
		return nil
	}

	func (s *Syncer) OnStop() {}
*/
type BaseService struct {
	logger log.Logger
	name   string

	mtx     sync.Mutex
	quit    <-chan struct{}
	cancel  context.CancelFunc
	started bool
	stopped bool

	// The "subclass" of BaseService
	impl Implementation
}

// NewBaseService creates a new BaseService.
func NewBaseService(logger log.Logger, name string, impl Implementation) *BaseService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BaseService{
		logger: logger,
		name:   name,
		quit:   make(chan struct{}),
		impl:   impl,
	}
}

// Start starts the Service and calls its OnStart method. An error will be
// returned if the service is already running or stopped.
func (bs *BaseService) Start(ctx context.Context) error {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if bs.stopped {
		bs.logger.Error("not starting service; already stopped", "service", bs.name)
		return ErrAlreadyStopped
	}
	if bs.started {
		return ErrAlreadyStarted
	}

	bs.logger.Info("starting service", "service", bs.name)

	srvCtx, cancel := context.WithCancel(context.Background())
	if err := bs.impl.OnStart(ctx); err != nil {
		cancel()
		return err
	}

	bs.started = true
	bs.cancel = cancel
	bs.quit = srvCtx.Done()

	go func(ctx context.Context) {
		select {
		case <-srvCtx.Done():
			// someone else explicitly called stop
			// and then we shouldn't.
			return
		case <-ctx.Done():
			bs.Stop()
		}
	}(ctx)

	return nil
}

// Stop manually terminates the service by calling OnStop method. Calling Stop
// on a service that was never started or was already stopped is a no-op.
func (bs *BaseService) Stop() {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if !bs.started || bs.stopped {
		return
	}

	bs.logger.Info("stopping service", "service", bs.name)
	bs.impl.OnStop()
	bs.stopped = true
	bs.cancel()
}

// IsRunning returns true when the service has been started and not stopped.
func (bs *BaseService) IsRunning() bool {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	return bs.started && !bs.stopped
}

// Wait blocks until the service is stopped.
func (bs *BaseService) Wait() {
	bs.mtx.Lock()
	quit := bs.quit
	bs.mtx.Unlock()
	<-quit
}

// String implements Service by returning a string representation of the service.
func (bs *BaseService) String() string { return bs.name }
