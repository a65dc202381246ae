package workers

import (
	"context"
	"log"
	"sync"
	"time"

	"fleetwatch/internal/models"
)

const DefaultDetailPollInterval = 15 * time.Second

// DetailFetch loads the detail snapshots of one device.
type DetailFetch func(ctx context.Context, deviceID string) ([]models.DetailSnapshot, error)

// DetailSink receives every poll outcome. It may block until ctx is done.
type DetailSink func(ctx context.Context, details []models.DetailSnapshot, err error)

// DetailPoller periodically reloads detail snapshots while the detailed view
// is active. At most one loop runs at a time.
type DetailPoller struct {
	interval time.Duration
	fetch    DetailFetch

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	deviceID string
}

func NewDetailPoller(interval time.Duration, fetch DetailFetch) *DetailPoller {
	if interval <= 0 {
		interval = DefaultDetailPollInterval
	}
	return &DetailPoller{interval: interval, fetch: fetch}
}

// Start stops any running loop, then polls deviceID immediately and on every
// interval tick until Stop.
func (p *DetailPoller) Start(deviceID string, sink DetailSink) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done, p.deviceID = cancel, done, deviceID

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.pollOnce(ctx, deviceID, sink)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.pollOnce(ctx, deviceID, sink)
			}
		}
	}()
	log.Printf("INFO Detail poller started: device=%s interval=%s", deviceID, p.interval)
}

// Stop cancels the loop and waits for it, so no poll is issued after Stop
// returns. Safe to call when nothing runs.
func (p *DetailPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Running reports the device being polled, if any.
func (p *DetailPoller) Running() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deviceID, p.cancel != nil
}

func (p *DetailPoller) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	log.Printf("INFO Detail poller stopped: device=%s", p.deviceID)
	p.cancel, p.done, p.deviceID = nil, nil, ""
}

func (p *DetailPoller) pollOnce(ctx context.Context, deviceID string, sink DetailSink) {
	details, err := p.fetch(ctx, deviceID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Printf("WARN Detail poll failed for %s: %v", deviceID, err)
	}
	sink(ctx, details, err)
}
