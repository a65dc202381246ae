package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "fleetwatch/docs"
	"fleetwatch/internal/bus"
	"fleetwatch/internal/commands"
	"fleetwatch/internal/hub"
	"fleetwatch/internal/middleware"
	"fleetwatch/internal/models"
	"fleetwatch/internal/session"
)

// Session is the part of *session.Session the HTTP API drives.
type Session interface {
	SelectDevice(deviceID string) error
	SetView(mode session.ViewMode) error
	SendCommand(kind models.CommandKind, payload string) (string, error)
	Refresh(ctx context.Context) error
	View() session.Status
	LatestDetail() (models.DetailSnapshot, *models.DetailPayload, bool)
}

type Handler struct {
	session Session
	hub     *hub.Hub
	limiter middleware.Counter
}

// New builds the API. limiter may be nil, which disables command rate
// limiting.
func New(s Session, viewers *hub.Hub, limiter middleware.Counter) *Handler {
	return &Handler{session: s, hub: viewers, limiter: limiter}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/session", h.GetSession)
	r.Put("/v1/session/device", h.SelectDevice)
	r.Put("/v1/session/view", h.SetView)
	r.Post("/v1/session/refresh", h.Refresh)
	r.Get("/v1/session/details/latest", h.LatestDetail)

	if h.limiter != nil {
		r.With(middleware.RateLimitCommands(h.limiter)).Post("/v1/session/commands", h.SendCommand)
	} else {
		r.Post("/v1/session/commands", h.SendCommand)
	}

	r.Get("/v1/stream", h.Stream)
}

// RegisterDocs serves the swagger UI. It is kept outside any auth group.
func RegisterDocs(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

type selectDeviceRequest struct {
	DeviceID string `json:"deviceId"`
}

type setViewRequest struct {
	View string `json:"view"`
}

type commandRequest struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

type commandResponse struct {
	CommandID string `json:"commandId"`
}

type latestDetailResponse struct {
	Snapshot models.DetailSnapshot `json:"snapshot"`
	Payload  *models.DetailPayload `json:"payload"`
}

// GetSession returns the current session state
// @Summary Current session
// @Description Selected device, bounded metric/detail/result histories, connection state, loading flag and error slot
// @Tags session
// @Produce json
// @Success 200 {object} session.Status
// @Security BearerAuth
// @Router /v1/session [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.View())
}

// SelectDevice switches the session to another device
// @Summary Select device
// @Tags session
// @Accept json
// @Produce json
// @Param body body selectDeviceRequest true "Device to watch"
// @Success 200 {object} session.Status
// @Failure 400 {string} string "Missing device id."
// @Security BearerAuth
// @Router /v1/session/device [put]
func (h *Handler) SelectDevice(w http.ResponseWriter, r *http.Request) {
	var req selectDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.session.SelectDevice(req.DeviceID); err != nil {
		httpErrorFromSession(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.View())
}

// SetView switches between the overview and the detailed view
// @Summary Set view
// @Description The detailed view polls detail snapshots in the background
// @Tags session
// @Accept json
// @Param body body setViewRequest true "overview or detailed"
// @Success 204
// @Failure 400 {string} string "Unknown view"
// @Security BearerAuth
// @Router /v1/session/view [put]
func (h *Handler) SetView(w http.ResponseWriter, r *http.Request) {
	var req setViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.session.SetView(session.ViewMode(strings.ToLower(req.View))); err != nil {
		httpErrorFromSession(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendCommand publishes a command to the selected device
// @Summary Send command
// @Description Fire-and-forget; the result arrives later on the command-result stream
// @Tags commands
// @Accept json
// @Produce json
// @Param body body commandRequest true "Command"
// @Success 202 {object} commandResponse
// @Failure 400 {string} string "Unknown command type"
// @Failure 409 {string} string "Push channel not connected."
// @Failure 429 {string} string "rate limit exceeded"
// @Security BearerAuth
// @Router /v1/session/commands [post]
func (h *Handler) SendCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.session.SendCommand(models.CommandKind(req.Type), req.Payload)
	if err != nil {
		httpErrorFromSession(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{CommandID: id})
}

// Refresh reloads the session snapshot
// @Summary Refresh
// @Description In the detailed view a collect-details command is sent first and the reload waits a short grace period
// @Tags session
// @Success 204
// @Failure 400 {string} string "Missing device id."
// @Security BearerAuth
// @Router /v1/session/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Refresh(r.Context()); err != nil {
		httpErrorFromSession(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LatestDetail returns the newest detail snapshot with its decoded payload
// @Summary Latest detail snapshot
// @Tags session
// @Produce json
// @Success 200 {object} latestDetailResponse
// @Failure 404 {string} string "No detail snapshot"
// @Security BearerAuth
// @Router /v1/session/details/latest [get]
func (h *Handler) LatestDetail(w http.ResponseWriter, r *http.Request) {
	snap, payload, found := h.session.LatestDetail()
	if !found {
		http.Error(w, "No detail snapshot", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, latestDetailResponse{Snapshot: snap, Payload: payload})
}

// Stream upgrades to a websocket that receives every session update.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WARN Viewer upgrade failed: %v", err)
		return
	}

	view := h.session.View()
	hello := models.SessionUpdate{
		Kind:     models.UpdateSnapshot,
		DeviceID: view.DeviceID,
		Device:   view.Device,
		State:    string(view.State),
		Error:    view.Error,
	}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return
	}

	viewerID := uuid.New().String()
	h.hub.Add(viewerID, conn)
	defer h.hub.Remove(viewerID)

	// Viewers only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func httpErrorFromSession(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrMissingDevice):
		http.Error(w, "Missing device id.", http.StatusBadRequest)
	case errors.Is(err, session.ErrUnknownView):
		http.Error(w, "Unknown view", http.StatusBadRequest)
	case errors.Is(err, commands.ErrUnknownKind):
		http.Error(w, "Unknown command type", http.StatusBadRequest)
	case errors.Is(err, bus.ErrNotConnected):
		http.Error(w, "Push channel not connected.", http.StatusConflict)
	case errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrNotStarted):
		http.Error(w, "Session unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "Request cancelled", http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR Encoding response: %v", err)
	}
}
