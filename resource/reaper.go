package resource

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// IdleClosable is a resource that can temporarily release its expensive
// state (typically a file handle) while unused.
type IdleClosable interface {
	// CloseTemporarilyIfIdle releases the resource if it was not accessed
	// since the last counter reset, returning whether it is now released.
	// With resetCounter set, the current access count becomes the new
	// baseline for the next call.
	CloseTemporarilyIfIdle(resetCounter bool) bool
}

// DefaultReapPeriod is the pause between reaper passes.
const DefaultReapPeriod = 30 * time.Second

// Reaper periodically releases idle resources. Registration and
// deregistration are non-blocking and safe during a running pass. Each
// pass resets the access counters, so a resource is only released on a
// pass following one with no intervening accesses.
type Reaper struct {
	period time.Duration
	logger *slog.Logger

	reg    *xsync.MapOf[uint64, IdleClosable]
	nextID atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewReaper creates a reaper. period <= 0 selects DefaultReapPeriod; a
// nil logger discards diagnostics. The loop starts with Start.
func NewReaper(period time.Duration, logger *slog.Logger) *Reaper {
	if period <= 0 {
		period = DefaultReapPeriod
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reaper{
		period: period,
		logger: logger,
		reg:    xsync.NewMapOf[uint64, IdleClosable](),
		stopCh: make(chan struct{}),
	}
}

// Register adds a resource and returns a handle for Deregister.
func (r *Reaper) Register(res IdleClosable) uint64 {
	id := r.nextID.Add(1)
	r.reg.Store(id, res)
	return id
}

// Deregister removes a previously registered resource.
func (r *Reaper) Deregister(id uint64) {
	r.reg.Delete(id)
}

// Start launches the background loop. Subsequent calls are no-ops.
func (r *Reaper) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.loop()
	})
}

// Stop terminates the background loop and waits for it to finish.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *Reaper) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.pass()
		}
	}
}

// pass visits every registered resource once. A failing or panicking
// resource is logged and skipped; the pass continues with the rest.
func (r *Reaper) pass() {
	r.reg.Range(func(id uint64, res IdleClosable) bool {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Warn("idle close panicked", slog.Uint64("id", id), slog.Any("panic", rec))
				}
			}()
			if res.CloseTemporarilyIfIdle(true) {
				r.logger.Debug("released idle resource", slog.Uint64("id", id))
			}
		}()
		return true
	})
}
