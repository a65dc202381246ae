// Package bus defines the push channel contract shared by the STOMP and NATS
// transports: dial, subscribe to device topics, publish commands.
package bus

import (
	"context"
	"errors"
)

var ErrNotConnected = errors.New("push channel not connected")

// State is the connection state of a device session's push channel.
type State string

const (
	Connecting   State = "connecting"
	Connected    State = "connected"
	Disconnected State = "disconnected"
)

// Kind identifies which device topic a message arrived on.
type Kind int

const (
	KindMetric Kind = iota
	KindStatus
	KindDetail
	KindCommandResult
)

var kindNames = [...]string{"metric", "status", "detail", "command-result"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Kinds lists every device topic a session subscribes to.
var Kinds = []Kind{KindMetric, KindStatus, KindDetail, KindCommandResult}

// Message is one inbound payload. Body is undecoded.
type Message struct {
	Kind Kind
	Body []byte
}

// Topics names the per-device destinations on a given transport.
type Topics struct {
	Metric        string
	Status        string
	Detail        string
	CommandResult string
	Command       string
}

// For returns the subscription destination for a topic kind.
func (t Topics) For(kind Kind) string {
	switch kind {
	case KindMetric:
		return t.Metric
	case KindStatus:
		return t.Status
	case KindDetail:
		return t.Detail
	case KindCommandResult:
		return t.CommandResult
	}
	return ""
}

// Transport dials push channel connections.
type Transport interface {
	// Dial opens one connection. An empty token connects unauthenticated.
	Dial(ctx context.Context, token string) (Conn, error)
	Topics(deviceID string) Topics
	Codec() Codec
}

// Conn is one live push channel connection. Handlers run on the transport's
// reader goroutine and must not block.
type Conn interface {
	Subscribe(destination string, handler func(body []byte)) (Subscription, error)
	Publish(destination string, body []byte) error
	// Done is closed when the connection drops for any reason.
	Done() <-chan struct{}
	Close() error
}

type Subscription interface {
	Unsubscribe() error
}
