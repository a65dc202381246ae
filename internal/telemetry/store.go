// Package telemetry holds the selected device's in-memory state: the device
// record and bounded newest-first histories of metrics, detail snapshots and
// command results.
package telemetry

import (
	"sync"

	"fleetwatch/internal/bus"
	"fleetwatch/internal/models"
)

const (
	DefaultMetricLimit = 60
	DefaultDetailLimit = 20
	DefaultResultLimit = 20
)

type Limits struct {
	Metrics int
	Details int
	Results int
}

func DefaultLimits() Limits {
	return Limits{
		Metrics: DefaultMetricLimit,
		Details: DefaultDetailLimit,
		Results: DefaultResultLimit,
	}
}

// View is a point-in-time copy of the store.
type View struct {
	DeviceID string                  `json:"deviceId"`
	Device   *models.Device          `json:"device"`
	Metrics  []models.MetricSample   `json:"metrics"`
	Details  []models.DetailSnapshot `json:"details"`
	Results  []models.CommandResult  `json:"results"`
	State    bus.State               `json:"state"`
	Loading  bool                    `json:"loading"`
	Error    string                  `json:"error,omitempty"`
}

// Store is written by a single session goroutine and read from anywhere.
type Store struct {
	mu     sync.RWMutex
	limits Limits

	deviceID string
	device   *models.Device
	metrics  []models.MetricSample
	details  []models.DetailSnapshot
	results  []models.CommandResult
	state    bus.State
	loading  bool
	errMsg   string
}

func NewStore(limits Limits) *Store {
	def := DefaultLimits()
	if limits.Metrics <= 0 {
		limits.Metrics = def.Metrics
	}
	if limits.Details <= 0 {
		limits.Details = def.Details
	}
	if limits.Results <= 0 {
		limits.Results = def.Results
	}
	return &Store{limits: limits, state: bus.Disconnected}
}

// Reset drops everything for a newly selected device. The connection state
// is left alone; it belongs to the connection.
func (s *Store) Reset(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceID = deviceID
	s.device = nil
	s.metrics = nil
	s.details = nil
	s.results = nil
	s.loading = false
	s.errMsg = ""
}

// Replace installs a full snapshot. Command results are kept.
func (s *Store) Replace(device *models.Device, metrics []models.MetricSample, details []models.DetailSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if device != nil {
		d := *device
		device = &d
	}
	s.device = device
	s.metrics = truncateCopy(metrics, s.limits.Metrics)
	s.details = truncateCopy(details, s.limits.Details)
}

func (s *Store) ReplaceDetails(details []models.DetailSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details = truncateCopy(details, s.limits.Details)
}

func (s *Store) PushMetric(sample models.MetricSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = prepend(s.metrics, sample, s.limits.Metrics)
}

func (s *Store) PushDetail(detail models.DetailSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details = prepend(s.details, detail, s.limits.Details)
}

func (s *Store) PushResult(result models.CommandResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = prepend(s.results, result, s.limits.Results)
}

// SetLastSeen returns the updated device, or nil when none is loaded.
func (s *Store) SetLastSeen(ts models.Timestamp) *models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil
	}
	s.device.LastSeenAt = ts
	d := *s.device
	return &d
}

// SetStatus returns the updated device, or nil when none is loaded.
func (s *Store) SetStatus(status models.DeviceStatus) *models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil
	}
	s.device.Status = status
	d := *s.device
	return &d
}

func (s *Store) SetState(state bus.State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.mu.Unlock()
}

func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.mu.Unlock()
}

func (s *Store) ClearError() {
	s.SetError("")
}

func (s *Store) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := View{
		DeviceID: s.deviceID,
		Metrics:  append([]models.MetricSample(nil), s.metrics...),
		Details:  append([]models.DetailSnapshot(nil), s.details...),
		Results:  append([]models.CommandResult(nil), s.results...),
		State:    s.state,
		Loading:  s.loading,
		Error:    s.errMsg,
	}
	if s.device != nil {
		d := *s.device
		v.Device = &d
	}
	return v
}

// prepend inserts v at the head and drops whatever falls past limit. Existing
// entries keep their relative order.
func prepend[T any](buf []T, v T, limit int) []T {
	n := len(buf) + 1
	if n > limit {
		n = limit
	}
	out := make([]T, n)
	out[0] = v
	copy(out[1:], buf)
	return out
}

func truncateCopy[T any](items []T, limit int) []T {
	if len(items) > limit {
		items = items[:limit]
	}
	return append([]T(nil), items...)
}
