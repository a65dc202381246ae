package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"fleetwatch/internal/models"
)

// SlackClient posts alerts for the watched device to an incoming webhook:
// the device going offline, and commands that finish with a non-ok status.
type SlackClient struct {
	webhookURL string
	client     *http.Client

	mu         sync.Mutex
	lastStatus map[string]models.DeviceStatus
}

type SlackMessage struct {
	Blocks []Block `json:"blocks"`
}

type Block struct {
	Type   string  `json:"type"`
	Text   *Text   `json:"text,omitempty"`
	Fields []*Text `json:"fields,omitempty"`
}

type Text struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func NewSlackClient(webhookURL string) *SlackClient {
	return &SlackClient{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		lastStatus: make(map[string]models.DeviceStatus),
	}
}

// Broadcast inspects one session update and alerts when it warrants it.
// Offline alerts fire on the transition only.
func (c *SlackClient) Broadcast(update models.SessionUpdate) {
	if c.webhookURL == "" {
		return
	}

	var message *SlackMessage
	switch {
	case update.Device != nil && (update.Kind == models.UpdateStatus || update.Kind == models.UpdateSnapshot):
		if c.statusChanged(update.DeviceID, update.Device.Status) && update.Device.Status == models.StatusOffline {
			message = buildOfflineMessage(update.Device)
		}
	case update.Kind == models.UpdateCommandResult && update.Result != nil:
		if update.Result.Status.Class() != models.ResultOK {
			message = buildResultMessage(update.Result)
		}
	}
	if message == nil {
		return
	}

	if err := c.sendMessage(*message); err != nil {
		log.Printf("WARN Slack alert failed: %v", err)
	}
}

func (c *SlackClient) statusChanged(deviceID string, status models.DeviceStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, seen := c.lastStatus[deviceID]
	c.lastStatus[deviceID] = status
	return !seen || prev != status
}

func buildOfflineMessage(device *models.Device) *SlackMessage {
	lastSeen := "never"
	if !device.LastSeenAt.IsZero() {
		lastSeen = device.LastSeenAt.UTC().Format(time.RFC3339)
	}
	return &SlackMessage{
		Blocks: []Block{
			{
				Type: "header",
				Text: &Text{
					Type:  "plain_text",
					Text:  fmt.Sprintf("🔴 Device offline: %s", displayName(device)),
					Emoji: true,
				},
			},
			{
				Type: "section",
				Fields: []*Text{
					{Type: "mrkdwn", Text: "*Device:*\n" + device.ID},
					{Type: "mrkdwn", Text: "*Last seen:*\n" + lastSeen},
				},
			},
		},
	}
}

func buildResultMessage(result *models.CommandResult) *SlackMessage {
	detail := result.Error
	if detail == "" {
		detail = result.Output
	}
	if detail == "" {
		detail = "No output"
	}
	return &SlackMessage{
		Blocks: []Block{
			{
				Type: "header",
				Text: &Text{
					Type:  "plain_text",
					Text:  fmt.Sprintf("⚠️ Command %s: %s", result.Status, result.Type),
					Emoji: true,
				},
			},
			{
				Type: "section",
				Fields: []*Text{
					{Type: "mrkdwn", Text: "*Device:*\n" + result.DeviceID},
					{Type: "mrkdwn", Text: "*Command:*\n" + result.CommandID},
				},
			},
			{
				Type: "section",
				Text: &Text{Type: "mrkdwn", Text: "```" + models.TruncateOutput(detail) + "```"},
			},
		},
	}
}

func displayName(device *models.Device) string {
	if device.Hostname != "" {
		return device.Hostname
	}
	return device.ID
}

func (c *SlackClient) sendMessage(message SlackMessage) error {
	reqBody, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	resp, err := c.client.Post(c.webhookURL, "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("post error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack error: %s", string(body))
	}

	return nil
}
