package natsbus

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	natsjwt "github.com/nats-io/jwt/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"

	"fleetwatch/internal/bus"
)

// Transport is a push channel over NATS core subjects. Payloads are msgpack
// encoded, except the status subject which carries a raw token.
type Transport struct {
	url       string
	credsFile string
	nkeySeed  string
}

func NewTransport(url, credsFile, nkeySeed string) *Transport {
	if url == "" {
		url = nats.DefaultURL
	}
	return &Transport{url: url, credsFile: credsFile, nkeySeed: nkeySeed}
}

func (t *Transport) Topics(deviceID string) bus.Topics {
	prefix := "fleet.device." + deviceID
	return bus.Topics{
		Metric:        prefix + ".metrics",
		Status:        prefix + ".status",
		Detail:        prefix + ".detail",
		CommandResult: prefix + ".command-result",
		Command:       prefix + ".command",
	}
}

func (t *Transport) Codec() bus.Codec {
	return bus.MsgpackCodec{}
}

// Dial connects once. Reconnection is owned by the session, so nats.go's own
// reconnect logic is disabled.
func (t *Transport) Dial(ctx context.Context, token string) (bus.Conn, error) {
	c := &conn{done: make(chan struct{})}
	dialer := &abortDialer{ctx: ctx, timeout: dialTimeout(ctx)}

	opts := []nats.Option{
		nats.Name("fleetwatch"),
		nats.NoReconnect(),
		nats.Timeout(dialer.timeout),
		nats.SetCustomDialer(dialer),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("WARN NATS disconnected: %v", err)
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.markDone()
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Printf("ERROR NATS error: %v", err)
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	authOpt, err := t.authOption()
	if err != nil {
		return nil, err
	}
	if authOpt != nil {
		opts = append(opts, authOpt)
	}

	// nats.Connect takes no context; cancelling ctx closes the socket under
	// the handshake instead.
	stop := context.AfterFunc(ctx, dialer.abort)
	nc, err := nats.Connect(t.url, opts...)
	aborted := !stop()
	if err != nil {
		if aborted {
			return nil, fmt.Errorf("connect to NATS: %w", ctx.Err())
		}
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	if aborted {
		nc.Close()
		return nil, fmt.Errorf("connect to NATS: %w", ctx.Err())
	}
	c.nc = nc
	return c, nil
}

type abortDialer struct {
	ctx     context.Context
	timeout time.Duration

	mu    sync.Mutex
	conns []net.Conn
}

func (d *abortDialer) Dial(network, address string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.timeout}
	conn, err := nd.DialContext(d.ctx, network, address)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *abortDialer) abort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, conn := range d.conns {
		conn.Close()
	}
}

func (t *Transport) authOption() (nats.Option, error) {
	switch {
	case t.credsFile != "":
		if err := checkCredsExpiry(t.credsFile); err != nil {
			return nil, err
		}
		return nats.UserCredentials(t.credsFile), nil
	case t.nkeySeed != "":
		kp, err := nkeys.FromSeed([]byte(t.nkeySeed))
		if err != nil {
			return nil, fmt.Errorf("invalid NATS nkey seed: %w", err)
		}
		pub, err := kp.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("derive nkey public key: %w", err)
		}
		return nats.Nkey(pub, kp.Sign), nil
	}
	return nil, nil
}

// checkCredsExpiry refuses a creds file whose user JWT has already expired;
// the server would reject it on every retry.
func checkCredsExpiry(path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read NATS creds: %w", err)
	}
	token, err := natsjwt.ParseDecoratedJWT(contents)
	if err != nil {
		return fmt.Errorf("parse NATS creds: %w", err)
	}
	claims, err := natsjwt.DecodeUserClaims(token)
	if err != nil {
		return fmt.Errorf("decode NATS user claims: %w", err)
	}
	if claims.Expires > 0 && time.Unix(claims.Expires, 0).Before(time.Now()) {
		return fmt.Errorf("NATS user JWT for %s expired at %s", claims.Subject, time.Unix(claims.Expires, 0).UTC().Format(time.RFC3339))
	}
	return nil
}

func dialTimeout(ctx context.Context) time.Duration {
	timeout := 5 * time.Second
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

type conn struct {
	nc       *nats.Conn
	done     chan struct{}
	doneOnce sync.Once
}

func (c *conn) Subscribe(subject string, handler func(body []byte)) (bus.Subscription, error) {
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

func (c *conn) Publish(subject string, body []byte) error {
	return c.nc.Publish(subject, body)
}

func (c *conn) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection without draining; pending messages are
// discarded.
func (c *conn) Close() error {
	c.nc.Close()
	c.markDone()
	return nil
}

func (c *conn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}
