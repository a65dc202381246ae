// Package commands sends remote commands to a device agent and records the
// results that come back on the command-result stream.
package commands

import (
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"fleetwatch/internal/bus"
	"fleetwatch/internal/models"
	"fleetwatch/internal/telemetry"
)

var (
	ErrMissingDevice = errors.New("missing device id")
	ErrUnknownKind   = errors.New("unknown command type")
)

// Publisher is the live push channel of the selected device.
type Publisher interface {
	State() bus.State
	PublishCommand(body []byte) error
}

// Dispatcher is fire-and-forget: Send returns once the command is handed to
// the transport, and no pending set is kept. Results are correlated by the
// consumer through CommandID only.
type Dispatcher struct {
	codec bus.Codec
}

func NewDispatcher(codec bus.Codec) *Dispatcher {
	return &Dispatcher{codec: codec}
}

// Send publishes one command and returns its correlation id. It fails
// without touching the network when the channel is not connected.
func (d *Dispatcher) Send(pub Publisher, deviceID string, kind models.CommandKind, payload string) (string, error) {
	if deviceID == "" {
		return "", ErrMissingDevice
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if pub == nil || pub.State() != bus.Connected {
		return "", bus.ErrNotConnected
	}

	cmd := models.Command{
		DeviceID:  deviceID,
		CommandID: uuid.New().String(),
		Type:      kind,
		Payload:   payload,
	}
	body, err := d.codec.Marshal(&cmd)
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}
	if err := pub.PublishCommand(body); err != nil {
		return "", fmt.Errorf("publish command: %w", err)
	}

	log.Printf("INFO Command sent: device=%s id=%s type=%s", deviceID, cmd.CommandID, kind)
	return cmd.CommandID, nil
}

// Record appends a result to the bounded history. Results for ids this
// session never sent, and repeated results for one id, are kept as well.
func (d *Dispatcher) Record(store *telemetry.Store, result models.CommandResult) {
	store.PushResult(result)
	if result.Status.Class() != models.ResultOK {
		log.Printf("WARN Command result: device=%s id=%s type=%s status=%s error=%s",
			result.DeviceID, result.CommandID, result.Type, result.Status, result.Error)
	}
}
