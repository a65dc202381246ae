package models

type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "ONLINE"
	StatusOffline DeviceStatus = "OFFLINE"
)

type Device struct {
	ID         string       `json:"id" msgpack:"id"`
	Hostname   string       `json:"hostname" msgpack:"hostname"`
	IPAddress  string       `json:"ipAddress" msgpack:"ip_address"`
	OS         string       `json:"os" msgpack:"os"`
	Status     DeviceStatus `json:"status" msgpack:"status"`
	LastSeenAt Timestamp    `json:"lastSeenAt" msgpack:"last_seen_at"`
}

// MetricSample is one periodic reading reported by the device agent.
type MetricSample struct {
	ID          int64     `json:"id" msgpack:"id"`
	CPUUsage    float64   `json:"cpuUsage" msgpack:"cpu_usage"`
	MemoryUsage float64   `json:"memoryUsage" msgpack:"memory_usage"`
	DiskUsage   float64   `json:"diskUsage" msgpack:"disk_usage"`
	NetworkIn   float64   `json:"networkIn" msgpack:"network_in"`
	NetworkOut  float64   `json:"networkOut" msgpack:"network_out"`
	CreatedAt   Timestamp `json:"createdAt" msgpack:"created_at"`
}

// Update kinds emitted by the session after each applied change.
const (
	UpdateSnapshot      = "snapshot"
	UpdateMetric        = "metric"
	UpdateStatus        = "status"
	UpdateDetail        = "detail"
	UpdateCommandResult = "command-result"
	UpdateState         = "state"
	UpdateError         = "error"
)

// SessionUpdate is a lightweight change notification for viewers. It carries
// the device only when the change touched it, and the result only for
// command-result updates.
type SessionUpdate struct {
	Kind     string         `json:"kind"`
	DeviceID string         `json:"deviceId"`
	Device   *Device        `json:"device,omitempty"`
	Result   *CommandResult `json:"result,omitempty"`
	State    string         `json:"state,omitempty"`
	Error    string         `json:"error,omitempty"`
}
