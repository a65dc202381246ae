package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"fleetwatch/internal/auth"
	"fleetwatch/internal/bus"
)

const DefaultRetryDelay = 5 * time.Second

var errConnectionLost = errors.New("push channel dropped")

type ConnectionConfig struct {
	DeviceID   string
	Transport  bus.Transport
	Tokens     auth.TokenProvider
	RetryDelay time.Duration

	// Deliver receives every inbound message on the transport's goroutine.
	// It must not block.
	Deliver func(bus.Message)
	// OnState observes state transitions. Optional.
	OnState func(bus.State)
}

// Connection keeps one device's push channel alive: dial, subscribe the four
// device topics, and on any failure wait RetryDelay and start over, until
// Close. Subscriptions are acquired per transport connection and released on
// every exit path.
type Connection struct {
	cfg    ConnectionConfig
	topics bus.Topics

	stateMu sync.Mutex
	state   bus.State

	connMu  sync.Mutex
	current bus.Conn

	gate   sync.RWMutex
	closed bool

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Open starts connecting in the background and returns immediately.
func Open(ctx context.Context, cfg ConnectionConfig) *Connection {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Tokens == nil {
		cfg.Tokens = auth.Static("")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := &Connection{
		cfg:    cfg,
		topics: cfg.Transport.Topics(cfg.DeviceID),
		state:  bus.Disconnected,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(runCtx)
	return c
}

func (c *Connection) State() bus.State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// PublishCommand sends body to the device's command destination.
func (c *Connection) PublishCommand(body []byte) error {
	c.connMu.Lock()
	conn := c.current
	c.connMu.Unlock()

	if conn == nil || c.State() != bus.Connected {
		return bus.ErrNotConnected
	}
	return conn.Publish(c.topics.Command, body)
}

// Close stops retrying, releases the subscriptions and the transport, and
// waits for the background goroutine. No Deliver or OnState call happens
// after Close returns. Close is idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.gate.Lock()
		c.closed = true
		c.gate.Unlock()

		c.cancel()
	})
	<-c.done
}

func (c *Connection) run(ctx context.Context) {
	defer close(c.done)

	for {
		c.setState(bus.Connecting)
		err := c.connectOnce(ctx)
		c.setState(bus.Disconnected)

		if ctx.Err() != nil {
			return
		}
		log.Printf("WARN Push channel for %s: %v; retrying in %s", c.cfg.DeviceID, err, c.cfg.RetryDelay)

		timer := time.NewTimer(c.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connectOnce runs one transport connection to completion.
func (c *Connection) connectOnce(ctx context.Context) error {
	conn, err := c.cfg.Transport.Dial(ctx, c.cfg.Tokens.Token())
	if err != nil {
		return err
	}

	var subs []bus.Subscription
	defer func() {
		c.setCurrent(nil)
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
		_ = conn.Close()
	}()

	for _, kind := range bus.Kinds {
		kind := kind
		sub, err := conn.Subscribe(c.topics.For(kind), func(body []byte) {
			c.deliver(bus.Message{Kind: kind, Body: body})
		})
		if err != nil {
			return err
		}
		subs = append(subs, sub)
	}

	c.setCurrent(conn)
	c.setState(bus.Connected)
	log.Printf("INFO Push channel connected for device %s", c.cfg.DeviceID)

	select {
	case <-ctx.Done():
		return nil
	case <-conn.Done():
		c.setState(bus.Disconnected)
		return errConnectionLost
	}
}

func (c *Connection) deliver(msg bus.Message) {
	c.gate.RLock()
	defer c.gate.RUnlock()
	if c.closed {
		return
	}
	c.cfg.Deliver(msg)
}

func (c *Connection) setCurrent(conn bus.Conn) {
	c.connMu.Lock()
	c.current = conn
	c.connMu.Unlock()
}

func (c *Connection) setState(state bus.State) {
	c.stateMu.Lock()
	if c.state == state {
		c.stateMu.Unlock()
		return
	}
	c.state = state
	c.stateMu.Unlock()

	if c.cfg.OnState != nil {
		c.cfg.OnState(state)
	}
}
