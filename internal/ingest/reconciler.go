package ingest

import (
	"bytes"
	"strings"

	"fleetwatch/internal/bus"
	"fleetwatch/internal/models"
	"fleetwatch/internal/telemetry"
)

// ResultRecorder stores command results as they arrive.
type ResultRecorder interface {
	Record(store *telemetry.Store, result models.CommandResult)
}

// Notifier receives a change notification after every applied update. It
// is called on the session goroutine and must not block.
type Notifier func(models.SessionUpdate)

// Reconciler merges snapshot loads, push events and detail polls into the
// telemetry store. It is only called from the session goroutine.
//
// Push events are applied in arrival order. An event is never rejected for
// carrying an older timestamp than the current head: producers disagree on
// clocks, so arrival order is the only order the session can trust.
type Reconciler struct {
	store   *telemetry.Store
	codec   bus.Codec
	results ResultRecorder
	notify  Notifier
}

func NewReconciler(store *telemetry.Store, codec bus.Codec, results ResultRecorder, notify Notifier) *Reconciler {
	if notify == nil {
		notify = func(models.SessionUpdate) {}
	}
	return &Reconciler{store: store, codec: codec, results: results, notify: notify}
}

// ApplySnapshot installs a completed load. On failure the buffers are left
// as they were and the error slot is set. The loading flag is cleared either
// way.
func (r *Reconciler) ApplySnapshot(snap Snapshot, err error) {
	r.store.SetLoading(false)
	if err != nil {
		r.Fail(errorMessage(err, "Failed to load device"))
		return
	}
	r.store.Replace(snap.Device, snap.Metrics, snap.Details)
	r.notify(models.SessionUpdate{Kind: models.UpdateSnapshot, DeviceID: snap.DeviceID, Device: snap.Device})
}

// ApplyDetailPoll replaces the detail history with a polled list.
func (r *Reconciler) ApplyDetailPoll(details []models.DetailSnapshot, err error) {
	if err != nil {
		r.Fail(errorMessage(err, "Failed to load details"))
		return
	}
	r.store.ReplaceDetails(details)
	r.notify(models.SessionUpdate{Kind: models.UpdateDetail, DeviceID: r.store.DeviceID()})
}

// ApplyPush merges one push event. Empty or undecodable payloads are dropped
// without surfacing an error; it reports whether anything was applied.
func (r *Reconciler) ApplyPush(msg bus.Message) bool {
	if len(bytes.TrimSpace(msg.Body)) == 0 {
		return false
	}
	deviceID := r.store.DeviceID()

	switch msg.Kind {
	case bus.KindMetric:
		var sample models.MetricSample
		if err := r.codec.Unmarshal(msg.Body, &sample); err != nil {
			return false
		}
		r.store.PushMetric(sample)
		update := models.SessionUpdate{Kind: models.UpdateMetric, DeviceID: deviceID}
		if !sample.CreatedAt.IsZero() {
			update.Device = r.store.SetLastSeen(sample.CreatedAt)
		}
		r.notify(update)

	case bus.KindStatus:
		// Status is a raw token on every transport, never encoded.
		status := strings.TrimSpace(string(msg.Body))
		device := r.store.SetStatus(models.DeviceStatus(status))
		r.notify(models.SessionUpdate{Kind: models.UpdateStatus, DeviceID: deviceID, Device: device})

	case bus.KindDetail:
		var detail models.DetailSnapshot
		if err := r.codec.Unmarshal(msg.Body, &detail); err != nil {
			return false
		}
		r.store.PushDetail(detail)
		r.notify(models.SessionUpdate{Kind: models.UpdateDetail, DeviceID: deviceID})

	case bus.KindCommandResult:
		var result models.CommandResult
		if err := r.codec.Unmarshal(msg.Body, &result); err != nil {
			return false
		}
		r.results.Record(r.store, result)
		r.notify(models.SessionUpdate{Kind: models.UpdateCommandResult, DeviceID: deviceID, Result: &result})

	default:
		return false
	}
	return true
}

// Fail sets the error slot and notifies viewers.
func (r *Reconciler) Fail(msg string) {
	r.store.SetError(msg)
	r.notify(models.SessionUpdate{Kind: models.UpdateError, DeviceID: r.store.DeviceID(), Error: msg})
}

func errorMessage(err error, fallback string) string {
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fallback
}
