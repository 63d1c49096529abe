package syncengine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leafscan/leafscan/internal/logger"
)

// AllSyncer pulls every entity; *Registry implements it.
type AllSyncer interface {
	SyncAll(ctx context.Context) error
}

// Puller runs SyncAll in the background: once at start, whenever
// connectivity returns, on Trigger, and every interval when it is positive.
// Runs never overlap; requests arriving during a run collapse into one more.
type Puller struct {
	syncer   AllSyncer
	interval time.Duration
	trigger  chan struct{}
	online   atomic.Bool
	runs     atomic.Int64
	log      logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPuller creates a puller over s. The puller assumes it starts online.
func NewPuller(s AllSyncer, interval time.Duration) *Puller {
	p := &Puller{
		syncer:   s,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		log:      logger.Global().Module("sync").With(logger.String("component", "puller")),
	}
	p.online.Store(true)
	return p
}

// Trigger requests a pull. It never blocks.
func (p *Puller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// SetOnline takes connectivity reports; an offline to online transition
// triggers a pull.
func (p *Puller) SetOnline(online bool) {
	if was := p.online.Swap(online); online && !was {
		p.log.Info("connectivity restored, pulling remote changes")
		p.Trigger()
	}
}

// Runs returns the number of completed pulls.
func (p *Puller) Runs() int64 { return p.runs.Load() }

// Start implements store.Component. The first pull starts immediately.
func (p *Puller) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.Trigger()
	go p.run(ctx, p.done)
	return nil
}

// Stop implements store.Component. It cancels a running pull and waits for it.
func (p *Puller) Stop(context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (p *Puller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if p.interval > 0 {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-p.trigger:
		}
		start := time.Now()
		if err := p.syncer.SyncAll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("background pull failed", logger.Error(err))
			continue
		}
		p.runs.Add(1)
		p.log.Debug("background pull finished", logger.Duration("elapsed", time.Since(start)))
	}
}
