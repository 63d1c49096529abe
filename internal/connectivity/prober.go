// Package connectivity probes the backend and reports online/offline
// transitions.
package connectivity

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/httpclient"
	"github.com/leafscan/leafscan/internal/logger"
)

// DefaultInterval is the probe period.
const DefaultInterval = 15 * time.Second

// Prober polls a URL and calls OnChange with every probe result. Any HTTP
// response below 500 counts as online.
type Prober struct {
	client   *httpclient.Client
	url      string
	interval time.Duration
	onChange func(online bool)
	log      logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber creates a prober. onChange receives every result, not only
// transitions; the pending queue ignores repeats.
func NewProber(client *httpclient.Client, url string, interval time.Duration, onChange func(bool)) (*Prober, error) {
	if url == "" {
		return nil, errors.Newf("probe url is required").
			Component("connectivity").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Prober{
		client:   client,
		url:      url,
		interval: interval,
		onChange: onChange,
		log:      logger.Global().Module("connectivity").With(logger.String("url", url)),
	}, nil
}

// Probe performs one check.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()
	resp, err := p.client.Get(ctx, p.url)
	if err != nil {
		p.log.Debug("probe failed", logger.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 500
}

// Start implements store.Component. It probes once immediately.
func (p *Prober) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
	return nil
}

// Stop implements store.Component.
func (p *Prober) Stop(context.Context) error {
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

func (p *Prober) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		online := p.Probe(ctx)
		if ctx.Err() != nil {
			return
		}
		p.onChange(online)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
