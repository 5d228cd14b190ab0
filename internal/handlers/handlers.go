package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fingermesh/accesshub/internal/commands"
	"github.com/fingermesh/accesshub/internal/hub"
	"github.com/fingermesh/accesshub/internal/models"
	"github.com/fingermesh/accesshub/internal/presence"
	"github.com/fingermesh/accesshub/internal/services"
	"github.com/fingermesh/accesshub/internal/template"
)

// maxUploadSize bounds template and capture-dump uploads. Captures carry two
// 256-byte pages plus framing noise, so this is generous.
const maxUploadSize = 64 * 1024

type Handler struct {
	auth      *services.AuthService
	sync      *services.SyncService
	queue     *commands.Queue
	tracker   *presence.Tracker
	templates *template.Store
	hub       *hub.Hub
	threshold int
	logger    zerolog.Logger
}

func New(
	auth *services.AuthService,
	syncService *services.SyncService,
	queue *commands.Queue,
	tracker *presence.Tracker,
	templates *template.Store,
	h *hub.Hub,
	threshold int,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		auth:      auth,
		sync:      syncService,
		queue:     queue,
		tracker:   tracker,
		templates: templates,
		hub:       h,
		threshold: threshold,
		logger:    logger,
	}
}

func (h *Handler) Register(router chi.Router) {
	router.Get("/health", h.handleHealth)
	router.Get("/ws", h.hub.ServeWS)

	router.Route("/api", func(r chi.Router) {
		r.Post("/login", h.handleLogin)

		// Dashboard reads and the device poll endpoint are open; devices
		// have no operator token.
		r.Get("/devices", h.handleListDevices)
		r.Get("/devices/{deviceID}/users", h.handleRoster)
		r.Get("/logs/access", h.handleAccessLogs)
		r.Get("/logs/system", h.handleSystemLogs)
		r.Get("/commands/{deviceID}", h.handlePollCommand)

		r.Group(func(r chi.Router) {
			r.Use(h.requireOperator)
			r.Post("/commands", h.handleSubmitCommand)
			r.Get("/commands/{deviceID}/pending", h.handlePendingCommand)
			r.Post("/templates", h.handleUploadTemplate)
			r.Post("/templates/extract", h.handleExtractTemplate)
			r.Post("/templates/match", h.handleMatchTemplate)
			r.Get("/templates/{id}", h.handleGetTemplate)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresAt, err := h.auth.Login(req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		respondError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("login failed")
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt,
	})
}

// requireOperator guards operator-facing endpoints with a bearer token.
func (h *Handler) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || h.auth.VerifyToken(token) != nil {
			respondError(w, http.StatusUnauthorized, "operator token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// DeviceView joins a stored device row with its live presence entry.
type DeviceView struct {
	models.Device
	SignalStrength *int `json:"signal_strength,omitempty"`
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.sync.Devices(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list devices")
		respondError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}

	views := make([]DeviceView, 0, len(devices))
	for _, device := range devices {
		view := DeviceView{Device: *device}
		if live, ok := h.tracker.Get(device.DeviceID); ok {
			view.SignalStrength = live.SignalStrength
			view.LastSeenAt = live.LastSeenAt
			view.Status = live.Status
			if live.IP != "" {
				view.IP = live.IP
			}
		}
		views = append(views, view)
	}
	respondJSON(w, http.StatusOK, views)
}

func (h *Handler) handleRoster(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	roster, err := h.sync.Roster(r.Context(), deviceID)
	if err != nil {
		h.logger.Error().Err(err).Str("device_id", deviceID).Msg("failed to read roster")
		respondError(w, http.StatusInternalServerError, "failed to read roster")
		return
	}
	respondJSON(w, http.StatusOK, roster)
}

func (h *Handler) handleAccessLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.sync.RecentAccessLogs(r.Context(), queryLimit(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read access logs")
		respondError(w, http.StatusInternalServerError, "failed to read access logs")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.sync.RecentSystemLogs(r.Context(), queryLimit(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read system logs")
		respondError(w, http.StatusInternalServerError, "failed to read system logs")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

type commandRequest struct {
	DeviceID     string `json:"deviceId"`
	Kind         string `json:"kind"`
	TargetUserID int64  `json:"targetUserId,omitempty"`
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	CardID       string `json:"cardId,omitempty"`
}

func (h *Handler) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cmd := models.Command{
		DeviceID:     req.DeviceID,
		Kind:         models.CommandKind(req.Kind),
		TargetUserID: req.TargetUserID,
		Name:         req.Name,
		Phone:        req.Phone,
		CardID:       req.CardID,
		IssuedAt:     time.Now(),
	}

	if err := h.queue.Submit(r.Context(), cmd); err != nil {
		var verr *commands.ValidationError
		if errors.As(err, &verr) {
			respondJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"message": verr.Error(),
				"field":   verr.Field,
			})
			return
		}
		h.logger.Error().Err(err).Msg("command submit failed")
		respondError(w, http.StatusInternalServerError, "command submit failed")
		return
	}

	h.hub.Publish("command-sent", cmd)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "command queued for " + cmd.DeviceID,
	})
}

// handlePollCommand is the device-initiated pull: it consumes the pending
// slot on read. An empty slot answers immediately with kind "none"; devices
// poll rather than long-poll.
func (h *Handler) handlePollCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	cmd, ok := h.queue.Take(deviceID)
	if !ok {
		respondJSON(w, http.StatusOK, map[string]string{"kind": "none"})
		return
	}

	h.hub.Publish("command-sent", *cmd)
	respondJSON(w, http.StatusOK, cmd)
}

// handlePendingCommand lets the dashboard inspect the slot without consuming
// it; only the device poll clears the queue.
func (h *Handler) handlePendingCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	cmd, ok := h.queue.Peek(deviceID)
	if !ok {
		respondJSON(w, http.StatusOK, map[string]string{"kind": "none"})
		return
	}
	respondJSON(w, http.StatusOK, cmd)
}

func (h *Handler) handleUploadTemplate(w http.ResponseWriter, r *http.Request) {
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	id, err := h.templates.Put(r.Context(), r.URL.Query().Get("id"), buf)
	if err != nil {
		if len(buf) != template.Size {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("template store failed")
		respondError(w, http.StatusInternalServerError, "template store failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *Handler) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	buf, err := h.templates.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, template.ErrTemplateNotFound) {
		respondError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("template fetch failed")
		respondError(w, http.StatusInternalServerError, "template fetch failed")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

func (h *Handler) handleMatchTemplate(w http.ResponseWriter, r *http.Request) {
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	id, err := h.templates.Match(r.Context(), buf)
	if errors.Is(err, template.ErrTemplateNotFound) {
		respondError(w, http.StatusNotFound, "no matching template")
		return
	}
	if err != nil {
		if len(buf) != template.Size {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("template match failed")
		respondError(w, http.StatusInternalServerError, "template match failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

// handleExtractTemplate runs the page-scan heuristic over a raw capture dump
// and returns the recovered 512-byte template without storing it.
func (h *Handler) handleExtractTemplate(w http.ResponseWriter, r *http.Request) {
	dump, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	buf, err := template.Extract(dump, h.threshold)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

// NewSnapshotFunc builds the initial-state payload a live subscriber gets on
// connect: current devices with presence, plus the recent log tails.
func NewSnapshotFunc(syncService *services.SyncService, tracker *presence.Tracker, logger zerolog.Logger) hub.SnapshotFunc {
	return func(ctx context.Context) interface{} {
		devices, err := syncService.Devices(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("snapshot device list failed")
		}
		accessLogs, err := syncService.RecentAccessLogs(ctx, services.DefaultLogLimit)
		if err != nil {
			logger.Error().Err(err).Msg("snapshot access logs failed")
		}
		systemLogs, err := syncService.RecentSystemLogs(ctx, services.DefaultLogLimit)
		if err != nil {
			logger.Error().Err(err).Msg("snapshot system logs failed")
		}

		return map[string]interface{}{
			"devices":     devices,
			"presence":    tracker.Snapshot(),
			"access_logs": accessLogs,
			"system_logs": systemLogs,
		}
	}
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
