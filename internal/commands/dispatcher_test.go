package commands

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"fleetwatch/internal/bus"
	"fleetwatch/internal/models"
	"fleetwatch/internal/telemetry"
)

type fakePublisher struct {
	state bus.State
	sent  [][]byte
	err   error
}

func (f *fakePublisher) State() bus.State { return f.state }

func (f *fakePublisher) PublishCommand(body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, body)
	return nil
}

func TestSend(t *testing.T) {
	d := NewDispatcher(bus.JSONCodec{})

	t.Run("disconnected fails without publishing", func(t *testing.T) {
		pub := &fakePublisher{state: bus.Disconnected}
		_, err := d.Send(pub, "d1", models.CommandShell, "uptime")
		if !errors.Is(err, bus.ErrNotConnected) {
			t.Errorf("Expected ErrNotConnected, got %v", err)
		}
		if len(pub.sent) != 0 {
			t.Errorf("Expected no published message, got %d", len(pub.sent))
		}
	})

	t.Run("connecting is not connected", func(t *testing.T) {
		pub := &fakePublisher{state: bus.Connecting}
		if _, err := d.Send(pub, "d1", models.CommandDiagnostics, "collect"); !errors.Is(err, bus.ErrNotConnected) {
			t.Errorf("Expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("nil publisher", func(t *testing.T) {
		if _, err := d.Send(nil, "d1", models.CommandShell, "ls"); !errors.Is(err, bus.ErrNotConnected) {
			t.Errorf("Expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("rejects unknown kind and missing device", func(t *testing.T) {
		pub := &fakePublisher{state: bus.Connected}
		if _, err := d.Send(pub, "d1", "reboot", ""); !errors.Is(err, ErrUnknownKind) {
			t.Errorf("Expected ErrUnknownKind, got %v", err)
		}
		if _, err := d.Send(pub, "", models.CommandShell, "ls"); !errors.Is(err, ErrMissingDevice) {
			t.Errorf("Expected ErrMissingDevice, got %v", err)
		}
		if len(pub.sent) != 0 {
			t.Errorf("Expected nothing published, got %d", len(pub.sent))
		}
	})

	t.Run("connected publishes command with fresh id", func(t *testing.T) {
		pub := &fakePublisher{state: bus.Connected}
		id1, err := d.Send(pub, "d1", models.CommandService, "restart")
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		id2, err := d.Send(pub, "d1", models.CommandService, "restart")
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if id1 == id2 {
			t.Error("Expected distinct correlation ids")
		}
		if _, err := uuid.Parse(id1); err != nil {
			t.Errorf("Expected a UUID, got %q", id1)
		}

		var cmd map[string]string
		if err := json.Unmarshal(pub.sent[0], &cmd); err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := map[string]string{"deviceId": "d1", "commandId": id1, "type": "service", "payload": "restart"}
		for k, v := range want {
			if cmd[k] != v {
				t.Errorf("Expected %s=%q, got %q", k, v, cmd[k])
			}
		}
	})

	t.Run("transport error surfaces", func(t *testing.T) {
		pub := &fakePublisher{state: bus.Connected, err: errors.New("broken pipe")}
		if _, err := d.Send(pub, "d1", models.CommandShell, "ls"); err == nil {
			t.Error("Expected publish error")
		}
	})
}

func TestRecord(t *testing.T) {
	d := NewDispatcher(bus.JSONCodec{})
	store := telemetry.NewStore(telemetry.DefaultLimits())

	d.Record(store, models.CommandResult{CommandID: "never-sent", Status: "weird"})
	d.Record(store, models.CommandResult{CommandID: "c1", Status: models.ResultOK})
	d.Record(store, models.CommandResult{CommandID: "c1", Status: models.ResultOK})

	v := store.View()
	if len(v.Results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(v.Results))
	}
	if v.Results[2].CommandID != "never-sent" || v.Results[2].Status != "weird" {
		t.Errorf("Expected unmatched result kept verbatim, got %+v", v.Results[2])
	}
	if v.Results[2].Status.Class() != models.ResultError {
		t.Errorf("Expected unknown status to style as error, got %s", v.Results[2].Status.Class())
	}
}
