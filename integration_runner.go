package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type sessionStatus struct {
	DeviceID string `json:"deviceId"`
	Device   *struct {
		Hostname string `json:"hostname"`
		Status   string `json:"status"`
	} `json:"device"`
	Metrics []json.RawMessage `json:"metrics"`
	Details []json.RawMessage `json:"details"`
	State   string            `json:"state"`
	Loading bool              `json:"loading"`
	Error   string            `json:"error"`
}

type sessionUpdate struct {
	Kind     string `json:"kind"`
	DeviceID string `json:"deviceId"`
	State    string `json:"state"`
	Error    string `json:"error"`
}

func main() {
	fmt.Println("=== fleetwatch smoke run ===")

	base := getEnv("WATCHER_URL", "http://localhost:8090")
	deviceID := getEnv("DEVICE_ID", "")
	if deviceID == "" {
		log.Fatal("DEVICE_ID is required")
	}
	apiKey := os.Getenv("WATCHER_API_KEY")

	// 1. Connect the viewer stream
	fmt.Println("\n1. Connecting viewer stream...")
	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		log.Fatal("Dial error:", err)
	}
	defer conn.Close()
	updates := make(chan sessionUpdate, 64)
	go func() {
		defer close(updates)
		for {
			var u sessionUpdate
			if err := conn.ReadJSON(&u); err != nil {
				return
			}
			updates <- u
		}
	}()
	fmt.Println("✓ Stream connected")

	// 2. Select the device
	fmt.Printf("\n2. Selecting device %s...\n", deviceID)
	call(base, apiKey, http.MethodPut, "/v1/session/device", map[string]string{"deviceId": deviceID}, http.StatusOK)
	status := waitStatus(base, apiKey, 15*time.Second, func(s sessionStatus) bool {
		return !s.Loading && s.State == "connected"
	})
	if status.Error != "" {
		log.Fatalf("Session error: %s", status.Error)
	}
	if status.Device != nil {
		fmt.Printf("✓ Loaded %s (%s), %d metrics\n", status.Device.Hostname, status.Device.Status, len(status.Metrics))
	} else {
		fmt.Printf("✓ Loaded %d metrics; device not in list\n", len(status.Metrics))
	}

	// 3. Detailed view
	fmt.Println("\n3. Switching to the detailed view...")
	call(base, apiKey, http.MethodPut, "/v1/session/view", map[string]string{"view": "detailed"}, http.StatusNoContent)
	fmt.Println("✓ Detail poller running")

	// 4. Command round trip
	fmt.Println("\n4. Sending diagnostics command...")
	var sent struct {
		CommandID string `json:"commandId"`
	}
	body := call(base, apiKey, http.MethodPost, "/v1/session/commands", map[string]string{"type": "diagnostics"}, http.StatusAccepted)
	if err := json.Unmarshal(body, &sent); err != nil {
		log.Fatal("Failed to decode command response:", err)
	}
	fmt.Printf("   command id %s\n", sent.CommandID)
	if waitUpdate(updates, "command-result", 20*time.Second) {
		fmt.Println("✓ Command result received")
	} else {
		fmt.Println("   no command result within 20s (agent may be offline)")
	}

	// 5. Refresh
	fmt.Println("\n5. Refreshing...")
	call(base, apiKey, http.MethodPost, "/v1/session/refresh", nil, http.StatusNoContent)
	status = waitStatus(base, apiKey, 15*time.Second, func(s sessionStatus) bool { return !s.Loading })
	fmt.Printf("✓ Refreshed: %d metrics, %d detail snapshots\n", len(status.Metrics), len(status.Details))

	fmt.Println("\n=== Smoke run complete ===")
}

func call(base, apiKey, method, path string, payload any, want int) []byte {
	var reader *bytes.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, base+path, reader)
	if err != nil {
		log.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != want {
		log.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, resp.StatusCode, strings.TrimSpace(buf.String()))
	}
	return buf.Bytes()
}

func waitStatus(base, apiKey string, timeout time.Duration, done func(sessionStatus) bool) sessionStatus {
	deadline := time.Now().Add(timeout)
	var s sessionStatus
	for time.Now().Before(deadline) {
		if err := json.Unmarshal(call(base, apiKey, http.MethodGet, "/v1/session", nil, http.StatusOK), &s); err != nil {
			log.Fatal("Failed to decode session:", err)
		}
		if done(s) {
			return s
		}
		time.Sleep(500 * time.Millisecond)
	}
	log.Fatalf("Session did not settle in %s (state=%s loading=%v error=%q)", timeout, s.State, s.Loading, s.Error)
	return s
}

func waitUpdate(updates <-chan sessionUpdate, kind string, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return false
			}
			if u.Kind == kind {
				return true
			}
		case <-timer.C:
			return false
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
