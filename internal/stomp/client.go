// Package stomp is a push channel transport speaking STOMP 1.2 over a plain
// websocket, the protocol of the dashboard backend's /ws endpoint.
package stomp

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"fleetwatch/internal/bus"
)

const (
	connectTimeout = 10 * time.Second
	writeTimeout   = 10 * time.Second
	maxMessageSize = 4 * 1024 * 1024
)

type Transport struct {
	url    string
	host   string
	dialer *websocket.Dialer
}

func NewTransport(url string) *Transport {
	return &Transport{
		url:    toWebSocketURL(url),
		host:   "fleetwatch",
		dialer: websocket.DefaultDialer,
	}
}

func (t *Transport) Topics(deviceID string) bus.Topics {
	return bus.Topics{
		Metric:        "/topic/device/" + deviceID,
		Status:        "/topic/device-status/" + deviceID,
		Detail:        "/topic/device-detail/" + deviceID,
		CommandResult: "/topic/command-result/" + deviceID,
		Command:       "/app/command/" + deviceID,
	}
}

func (t *Transport) Codec() bus.Codec {
	return bus.JSONCodec{}
}

// Dial opens the websocket and completes the STOMP CONNECT handshake.
func (t *Transport) Dial(ctx context.Context, token string) (bus.Conn, error) {
	ws, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.url, err)
	}
	ws.SetReadLimit(maxMessageSize)

	headers := map[string]string{
		"accept-version": "1.2",
		"host":           t.host,
		"heart-beat":     "0,0",
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	c := &conn{
		ws:       ws,
		handlers: make(map[string]func([]byte)),
		done:     make(chan struct{}),
	}
	if err := c.write(newFrame("CONNECT", headers, nil)); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}
	if err := c.awaitConnected(ctx); err != nil {
		ws.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	nextID  atomic.Int64

	mu       sync.RWMutex
	handlers map[string]func([]byte)

	done      chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
	doneOnce  sync.Once
}

func (c *conn) awaitConnected(ctx context.Context) error {
	deadline := time.Now().Add(connectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetReadDeadline(deadline)

	// Cancelling ctx expires the read deadline so a silent broker cannot hold
	// the handshake open.
	stop := make(chan struct{})
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		select {
		case <-ctx.Done():
			c.ws.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-watching
		c.ws.SetReadDeadline(time.Time{})
	}()

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("await CONNECTED: %w", ctxErr)
			}
			return fmt.Errorf("await CONNECTED: %w", err)
		}
		frames, err := Decode(payload)
		if err != nil {
			return fmt.Errorf("decode handshake: %w", err)
		}
		for _, frame := range frames {
			switch frame.Command {
			case "CONNECTED":
				return nil
			case "ERROR":
				return fmt.Errorf("stomp error: %s %s", frame.Headers["message"], strings.TrimSpace(string(frame.Body)))
			}
		}
	}
}

func (c *conn) readLoop() {
	defer c.markDone()
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closing.Load() {
				log.Printf("WARN STOMP read error: %v", err)
			}
			return
		}

		frames, err := Decode(payload)
		if err != nil {
			log.Printf("WARN STOMP decode error: %v", err)
		}
		for _, frame := range frames {
			switch frame.Command {
			case "MESSAGE":
				c.mu.RLock()
				handler := c.handlers[frame.Headers["subscription"]]
				c.mu.RUnlock()
				if handler != nil {
					handler(frame.Body)
				}
			case "ERROR":
				// The broker closes the session after an ERROR frame.
				log.Printf("ERROR STOMP broker error: %s", frame.Headers["message"])
				return
			}
		}
	}
}

func (c *conn) Subscribe(destination string, handler func(body []byte)) (bus.Subscription, error) {
	id := "sub-" + strconv.FormatInt(c.nextID.Add(1), 10)

	c.mu.Lock()
	c.handlers[id] = handler
	c.mu.Unlock()

	err := c.write(newFrame("SUBSCRIBE", map[string]string{
		"id":          id,
		"destination": destination,
		"ack":         "auto",
	}, nil))
	if err != nil {
		c.removeHandler(id)
		return nil, fmt.Errorf("subscribe %s: %w", destination, err)
	}
	return &subscription{conn: c, id: id}, nil
}

func (c *conn) Publish(destination string, body []byte) error {
	return c.write(newFrame("SEND", map[string]string{
		"destination":    destination,
		"content-type":   "application/json",
		"content-length": strconv.Itoa(len(body)),
	}, body))
}

func (c *conn) Done() <-chan struct{} {
	return c.done
}

// Close sends DISCONNECT best-effort, closes the socket and waits for the
// reader goroutine, so no handler runs after Close returns.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		_ = c.write(newFrame("DISCONNECT", nil, nil))
		err = c.ws.Close()
	})
	<-c.done
	return err
}

func (c *conn) write(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, frame.Encode())
}

func (c *conn) removeHandler(id string) {
	c.mu.Lock()
	delete(c.handlers, id)
	c.mu.Unlock()
}

func (c *conn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

type subscription struct {
	conn *conn
	id   string
}

func (s *subscription) Unsubscribe() error {
	s.conn.removeHandler(s.id)
	select {
	case <-s.conn.done:
		return nil
	default:
	}
	return s.conn.write(newFrame("UNSUBSCRIBE", map[string]string{"id": s.id}, nil))
}

func toWebSocketURL(serverURL string) string {
	base := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
		return base
	}
	return "ws://" + base
}
