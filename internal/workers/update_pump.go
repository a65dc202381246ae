package workers

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"fleetwatch/internal/cache"
	"fleetwatch/internal/models"
)

const (
	updateBuffer = 256
	lastSeenTTL  = 24 * time.Hour
)

// Broadcaster delivers updates to viewers.
type Broadcaster interface {
	Broadcast(update models.SessionUpdate)
}

// UpdatePump moves session updates off the session goroutine: Notify never
// blocks, and a background worker fans out to viewers and mirrors device
// presence into the cache.
type UpdatePump struct {
	updates  chan models.SessionUpdate
	presence cache.Client
	viewers  []Broadcaster
	dropped  atomic.Int64
	done     chan struct{}
}

// StartUpdatePump starts the worker. presence may be nil; nil viewers are
// skipped.
func StartUpdatePump(ctx context.Context, presence cache.Client, viewers ...Broadcaster) *UpdatePump {
	p := &UpdatePump{
		updates:  make(chan models.SessionUpdate, updateBuffer),
		presence: presence,
		viewers:  viewers,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(p.done)
		for {
			select {
			case <-ctx.Done():
				return
			case update := <-p.updates:
				p.handle(update)
			}
		}
	}()

	log.Println("INFO Update pump started")
	return p
}

// Notify queues an update. When the worker falls behind, the update is
// dropped and counted.
func (p *UpdatePump) Notify(update models.SessionUpdate) {
	select {
	case p.updates <- update:
	default:
		p.dropped.Add(1)
	}
}

func (p *UpdatePump) Dropped() int64 {
	return p.dropped.Load()
}

// Done is closed once the worker has exited.
func (p *UpdatePump) Done() <-chan struct{} {
	return p.done
}

func (p *UpdatePump) handle(update models.SessionUpdate) {
	for _, v := range p.viewers {
		if v != nil {
			v.Broadcast(update)
		}
	}
	if p.presence == nil || update.DeviceID == "" {
		return
	}

	switch {
	case update.Kind == models.UpdateState:
		if err := p.presence.SetStreamState(update.DeviceID, update.State); err != nil {
			log.Printf("WARN SetStreamState failed for %s: %v", update.DeviceID, err)
		}
	case update.Device != nil:
		if err := p.presence.SetStatus(update.DeviceID, string(update.Device.Status)); err != nil {
			log.Printf("WARN SetStatus failed for %s: %v", update.DeviceID, err)
		}
		if !update.Device.LastSeenAt.IsZero() {
			if err := p.presence.SetLastSeen(update.DeviceID, update.Device.LastSeenAt.Time, lastSeenTTL); err != nil {
				log.Printf("WARN SetLastSeen failed for %s: %v", update.DeviceID, err)
			}
		}
	}
}
