package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fleetwatch/internal/auth"
	"fleetwatch/internal/bus"
)

type fakeTransport struct {
	mu        sync.Mutex
	failDials int
	tokens    []string
	conns     []*fakeConn
	overlap   bool
}

func (f *fakeTransport) Dial(ctx context.Context, token string) (bus.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	if f.failDials > 0 {
		f.failDials--
		return nil, errors.New("connection refused")
	}
	for _, c := range f.conns {
		if !c.isClosed() {
			f.overlap = true
		}
	}
	c := &fakeConn{handlers: make(map[string]func([]byte)), done: make(chan struct{})}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeTransport) Topics(deviceID string) bus.Topics {
	return bus.Topics{
		Metric:        "metric/" + deviceID,
		Status:        "status/" + deviceID,
		Detail:        "detail/" + deviceID,
		CommandResult: "result/" + deviceID,
		Command:       "command/" + deviceID,
	}
}

func (f *fakeTransport) Codec() bus.Codec { return bus.JSONCodec{} }

func (f *fakeTransport) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

func (f *fakeTransport) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.conns) {
		return nil
	}
	return f.conns[i]
}

type published struct {
	dest string
	body []byte
}

type fakeConn struct {
	mu        sync.Mutex
	handlers  map[string]func([]byte)
	published []published
	closed    bool
	done      chan struct{}
	once      sync.Once
}

type fakeSub struct {
	c    *fakeConn
	dest string
}

func (s fakeSub) Unsubscribe() error {
	s.c.mu.Lock()
	delete(s.c.handlers, s.dest)
	s.c.mu.Unlock()
	return nil
}

func (c *fakeConn) Subscribe(dest string, handler func([]byte)) (bus.Subscription, error) {
	c.mu.Lock()
	c.handlers[dest] = handler
	c.mu.Unlock()
	return fakeSub{c: c, dest: dest}, nil
}

func (c *fakeConn) Publish(dest string, body []byte) error {
	c.mu.Lock()
	c.published = append(c.published, published{dest: dest, body: body})
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.drop()
	return nil
}

func (c *fakeConn) drop() { c.once.Do(func() { close(c.done) }) }

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) handler(dest string) func([]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[dest]
}

func (c *fakeConn) subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

func (c *fakeConn) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

type stateLog struct {
	mu     sync.Mutex
	states []bus.State
}

func (l *stateLog) add(s bus.State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) snapshot() []bus.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bus.State(nil), l.states...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestConnectionRetriesUntilConnected(t *testing.T) {
	transport := &fakeTransport{failDials: 1}
	states := &stateLog{}
	c := Open(context.Background(), ConnectionConfig{
		DeviceID:   "d1",
		Transport:  transport,
		Tokens:     auth.Static("tok"),
		RetryDelay: 5 * time.Millisecond,
		Deliver:    func(bus.Message) {},
		OnState:    states.add,
	})

	waitFor(t, func() bool { return c.State() == bus.Connected })
	c.Close()

	want := []bus.State{bus.Connecting, bus.Disconnected, bus.Connecting, bus.Connected, bus.Disconnected}
	got := states.snapshot()
	if len(got) != len(want) {
		t.Fatalf("Expected states %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected state %d to be %s, got %s", i, want[i], got[i])
		}
	}
	if transport.dials() != 2 {
		t.Errorf("Expected 2 dials, got %d", transport.dials())
	}
	if transport.tokens[0] != "tok" {
		t.Errorf("Expected token to be passed to Dial, got %q", transport.tokens[0])
	}
}

func TestConnectionResubscribesAfterDrop(t *testing.T) {
	transport := &fakeTransport{}
	var mu sync.Mutex
	var got []bus.Message
	c := Open(context.Background(), ConnectionConfig{
		DeviceID:   "d1",
		Transport:  transport,
		RetryDelay: 5 * time.Millisecond,
		Deliver: func(msg bus.Message) {
			mu.Lock()
			got = append(got, msg)
			mu.Unlock()
		},
	})
	defer c.Close()

	waitFor(t, func() bool { return c.State() == bus.Connected })
	first := transport.conn(0)
	if n := first.subscriptions(); n != len(bus.Kinds) {
		t.Fatalf("Expected %d subscriptions, got %d", len(bus.Kinds), n)
	}

	first.drop()
	waitFor(t, func() bool { return transport.conn(1) != nil && c.State() == bus.Connected })

	if n := first.subscriptions(); n != 0 {
		t.Errorf("Expected old subscriptions to be released, got %d", n)
	}
	second := transport.conn(1)
	if n := second.subscriptions(); n != len(bus.Kinds) {
		t.Fatalf("Expected %d subscriptions after reconnect, got %d", len(bus.Kinds), n)
	}

	second.handler("status/d1")([]byte("ONLINE"))
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Kind != bus.KindStatus || string(got[0].Body) != "ONLINE" {
		t.Errorf("Expected one status message, got %+v", got)
	}
}

func TestConnectionClose(t *testing.T) {
	transport := &fakeTransport{}
	delivered := 0
	c := Open(context.Background(), ConnectionConfig{
		DeviceID:  "d1",
		Transport: transport,
		Deliver:   func(bus.Message) { delivered++ },
	})
	waitFor(t, func() bool { return c.State() == bus.Connected })

	h := transport.conn(0).handler("metric/d1")
	c.Close()
	c.Close()

	h([]byte(`{"id":1}`))
	if delivered != 0 {
		t.Errorf("Expected no delivery after Close, got %d", delivered)
	}
	if !transport.conn(0).isClosed() {
		t.Error("Expected transport connection to be closed")
	}
	if c.State() != bus.Disconnected {
		t.Errorf("Expected disconnected after Close, got %s", c.State())
	}
}

func TestConnectionPublishCommand(t *testing.T) {
	transport := &fakeTransport{failDials: 1000}
	c := Open(context.Background(), ConnectionConfig{
		DeviceID:   "d1",
		Transport:  transport,
		RetryDelay: time.Hour,
		Deliver:    func(bus.Message) {},
	})
	if err := c.PublishCommand([]byte("{}")); !errors.Is(err, bus.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	c.Close()

	transport = &fakeTransport{}
	c = Open(context.Background(), ConnectionConfig{DeviceID: "d1", Transport: transport, Deliver: func(bus.Message) {}})
	defer c.Close()
	waitFor(t, func() bool { return c.State() == bus.Connected })

	if err := c.PublishCommand([]byte(`{"type":"shell"}`)); err != nil {
		t.Fatalf("Expected publish to succeed, got %v", err)
	}
	sent := transport.conn(0).sent()
	if len(sent) != 1 || sent[0].dest != "command/d1" {
		t.Errorf("Expected one publish to command/d1, got %+v", sent)
	}
}
