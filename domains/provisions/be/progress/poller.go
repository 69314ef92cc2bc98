package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/metrics"
)

// DefaultInterval is how often progress is re-read while provisioning.
const DefaultInterval = 3 * time.Second

// Poller re-projects an owner's progress on a fixed interval while any
// product is provisioning.
type Poller struct {
	projector *Projector
	interval  time.Duration
	logger    *zap.Logger
}

func NewPoller(projector *Projector, interval time.Duration, logger *zap.Logger) *Poller {
	if projector == nil {
		panic("poller requires projector")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{projector: projector, interval: interval, logger: logger}
}

// Watch is one running poll loop.
type Watch struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	last Snapshot
	err  error
}

// Start emits a snapshot immediately, then every interval, and stops by
// itself once nothing is provisioning. emit runs on the poll goroutine.
func (p *Poller) Start(ctx context.Context, ownerID string, emit func(Snapshot)) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{cancel: cancel, done: make(chan struct{})}
	go p.loop(ctx, ownerID, emit, w)
	return w
}

// Stop cancels the loop and waits for it to exit. Safe to call repeatedly.
func (w *Watch) Stop() {
	w.cancel()
	<-w.done
}

// Done is closed when the loop exits.
func (w *Watch) Done() <-chan struct{} { return w.done }

// Last returns the latest snapshot and the last read error, if any.
func (w *Watch) Last() (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.err
}

func (p *Poller) loop(ctx context.Context, ownerID string, emit func(Snapshot), w *Watch) {
	defer close(w.done)
	defer w.cancel()

	log := p.logger.With(zap.String("owner_id", ownerID))
	if !p.tick(ctx, ownerID, emit, w, log) {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			metrics.RecordPollTick("cancelled")
			return
		case <-ticker.C:
			if !p.tick(ctx, ownerID, emit, w, log) {
				return
			}
		}
	}
}

// tick reports whether polling should continue.
func (p *Poller) tick(ctx context.Context, ownerID string, emit func(Snapshot), w *Watch, log *zap.Logger) bool {
	snap, err := p.projector.ForOwner(ctx, ownerID)
	if err != nil {
		if ctx.Err() != nil {
			metrics.RecordPollTick("cancelled")
			return false
		}
		// keep polling; the next tick may succeed
		metrics.RecordPollTick("error")
		log.Warn("progress poll failed", zap.Error(err))
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		return true
	}

	w.mu.Lock()
	w.last, w.err = snap, nil
	w.mu.Unlock()
	emit(snap)

	if !snap.Provisioning {
		metrics.RecordPollTick("settled")
		log.Debug("progress settled; polling stopped")
		return false
	}
	metrics.RecordPollTick("provisioning")
	return true
}
