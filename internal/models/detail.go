package models

import "encoding/json"

// DetailSnapshot is a larger diagnostic payload collected on demand by the
// agent. DetailsJSON is opaque to the session and only decoded for display.
type DetailSnapshot struct {
	ID          int64     `json:"id" msgpack:"id"`
	DetailsJSON string    `json:"detailsJson" msgpack:"details_json"`
	CreatedAt   Timestamp `json:"createdAt" msgpack:"created_at"`
}

// DetailPayload mirrors what the agent's detail collector reports. Nested
// sections stay loosely typed; their schema belongs to the agent.
type DetailPayload struct {
	CollectedAt string           `json:"collectedAt"`
	OS          string           `json:"os"`
	Processes   []map[string]any `json:"processes"`
	Connections []map[string]any `json:"connections"`
	Memory      map[string]any   `json:"memory"`
	Services    json.RawMessage  `json:"services"`
	Logs        json.RawMessage  `json:"logs"`
}

// Decode parses the blob. A blob that does not decode means no detail is
// available; it is never an error for the caller.
func (d DetailSnapshot) Decode() (*DetailPayload, bool) {
	if d.DetailsJSON == "" {
		return nil, false
	}
	var payload DetailPayload
	if err := json.Unmarshal([]byte(d.DetailsJSON), &payload); err != nil {
		return nil, false
	}
	return &payload, true
}
