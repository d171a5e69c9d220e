package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"metrion-backend/internal/bus"
	"metrion-backend/internal/crypto"
	"metrion-backend/internal/indicator"
	"metrion-backend/internal/source"
	"metrion-backend/internal/storage"
)

const defaultBaselineWindowMinutes = 60

type Handler struct {
	Repo         *storage.Repository
	Bus          *bus.Publisher
	Encryptor    crypto.Encryptor
	MinFrequency int
	MaxFrequency int
	Timeout      time.Duration
}

type connectionRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

type indicatorRequest struct {
	Name                      string   `json:"name"`
	Owner                     string   `json:"owner"`
	ConnectionRef             string   `json:"connectionRef"`
	Query                     string   `json:"query"`
	FrequencyMinutes          int      `json:"frequencyMinutes"`
	DeviationThresholdPercent float64  `json:"deviationThresholdPercent"`
	MinimumThreshold          *float64 `json:"minimumThreshold"`
	BaselineWindowMinutes     int      `json:"baselineWindowMinutes"`
	CooldownMinutes           int      `json:"cooldownMinutes"`
	Enabled                   *bool    `json:"enabled"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/connections", func(r chi.Router) {
		r.Post("/", h.handleConnectionCreate)
		r.Get("/", h.handleConnectionList)
		r.Post("/{id}/test", h.handleConnectionTest)
		r.Delete("/{id}", h.handleConnectionDelete)
	})
	r.Route("/indicators", func(r chi.Router) {
		r.Post("/", h.handleIndicatorCreate)
		r.Get("/", h.handleIndicatorList)
		r.Get("/{id}", h.handleIndicatorGet)
		r.Put("/{id}", h.handleIndicatorUpdate)
		r.Delete("/{id}", h.handleIndicatorDelete)
		r.Post("/{id}/enable", h.handleIndicatorEnable)
		r.Post("/{id}/disable", h.handleIndicatorDisable)
		r.Post("/{id}/run", h.handleIndicatorRun)
		r.Get("/{id}/executions", h.handleIndicatorExecutions)
		r.Get("/{id}/alerts", h.handleIndicatorAlerts)
	})
	r.Post("/alerts/{id}/treated", h.handleAlertTreated)
}

func (h *Handler) handleConnectionCreate(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if req.Name == "" || req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "name and type are required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	sealed, err := h.Encryptor.Encrypt(req.Password)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "encryption failed"})
		return
	}
	id, err := h.Repo.CreateConnection(ctx, storage.Connection{
		Name:        req.Name,
		Type:        req.Type,
		Host:        req.Host,
		Port:        req.Port,
		User:        req.User,
		PasswordEnc: sealed,
		Database:    req.Database,
		SSLMode:     req.SSLMode,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to store connection"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connectionRef": id})
}

func (h *Handler) handleConnectionList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	conns, err := h.Repo.ListConnections(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list connections"})
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

func (h *Handler) handleConnectionTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	conn, err := h.Repo.GetConnection(ctx, id)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	password, err := h.Encryptor.Decrypt(conn.PasswordEnc)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "decryption failed"})
		return
	}
	err = source.Test(ctx, source.Config{
		Type:     conn.Type,
		Host:     conn.Host,
		Port:     conn.Port,
		User:     conn.User,
		Password: password,
		Database: conn.Database,
		SSLMode:  conn.SSLMode,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleConnectionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Repo.DeleteConnection(ctx, id); err != nil {
		writeStorageError(w, err)
		return
	}
	_ = h.Bus.Publish(bus.SubjectConnectionUpdated, bus.Event{ConnectionID: id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) indicatorFromRequest(req indicatorRequest) (indicator.Indicator, error) {
	ind := indicator.Indicator{
		Name:                      req.Name,
		Owner:                     req.Owner,
		ConnectionRef:             req.ConnectionRef,
		Query:                     req.Query,
		FrequencyMinutes:          req.FrequencyMinutes,
		DeviationThresholdPercent: req.DeviationThresholdPercent,
		MinimumThreshold:          req.MinimumThreshold,
		BaselineWindowMinutes:     req.BaselineWindowMinutes,
		CooldownMinutes:           req.CooldownMinutes,
		IsActive:                  true,
	}
	if ind.BaselineWindowMinutes == 0 {
		ind.BaselineWindowMinutes = defaultBaselineWindowMinutes
	}
	if req.Enabled != nil {
		ind.IsActive = *req.Enabled
	}
	if err := ind.Validate(); err != nil {
		return indicator.Indicator{}, err
	}
	if ind.FrequencyMinutes < h.MinFrequency || ind.FrequencyMinutes > h.MaxFrequency {
		return indicator.Indicator{}, fmt.Errorf("frequencyMinutes must be between %d and %d", h.MinFrequency, h.MaxFrequency)
	}
	return ind, nil
}

func (h *Handler) handleIndicatorCreate(w http.ResponseWriter, r *http.Request) {
	var req indicatorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	ind, err := h.indicatorFromRequest(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if _, err := h.Repo.GetConnection(ctx, ind.ConnectionRef); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "unknown connectionRef"})
		return
	}
	id, err := h.Repo.CreateIndicator(ctx, ind)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to store indicator"})
		return
	}
	_ = h.Bus.Publish(bus.SubjectIndicatorCreated, bus.Event{IndicatorID: id})
	writeJSON(w, http.StatusOK, map[string]any{"indicatorId": id})
}

func (h *Handler) handleIndicatorList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	inds, err := h.Repo.ListIndicators(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list indicators"})
		return
	}
	writeJSON(w, http.StatusOK, inds)
}

func (h *Handler) handleIndicatorGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	ind, err := h.Repo.GetIndicator(ctx, id)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ind)
}

func (h *Handler) handleIndicatorUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req indicatorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	ind, err := h.indicatorFromRequest(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	ind.ID = id
	if err := h.Repo.UpdateIndicator(ctx, ind); err != nil {
		writeStorageError(w, err)
		return
	}
	_ = h.Bus.Publish(bus.SubjectIndicatorUpdated, bus.Event{IndicatorID: id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleIndicatorDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Repo.DeleteIndicator(ctx, id); err != nil {
		writeStorageError(w, err)
		return
	}
	_ = h.Bus.Publish(bus.SubjectIndicatorDeleted, bus.Event{IndicatorID: id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleIndicatorEnable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) handleIndicatorDisable(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Repo.SetIndicatorActive(ctx, id, active); err != nil {
		writeStorageError(w, err)
		return
	}
	_ = h.Bus.Publish(bus.SubjectIndicatorUpdated, bus.Event{IndicatorID: id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleIndicatorRun queues a manual execution. The engine picks the event up
// and runs the indicator outside its schedule, subject to its batch gate.
func (h *Handler) handleIndicatorRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if _, err := h.Repo.GetIndicator(ctx, id); err != nil {
		writeStorageError(w, err)
		return
	}
	if err := h.Bus.Publish(bus.SubjectIndicatorRun, bus.Event{IndicatorID: id}); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to queue run"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "indicatorId": id})
}

func (h *Handler) handleIndicatorExecutions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	results, err := h.Repo.ListExecutions(ctx, id, queryLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list executions"})
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleIndicatorAlerts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	alerts, err := h.Repo.ListAlerts(ctx, id, queryLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list alerts"})
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) handleAlertTreated(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	treated := true
	if raw := r.URL.Query().Get("treated"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "invalid treated value"})
			return
		}
		treated = parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Repo.SetAlertTreated(ctx, id, treated); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	if parsed, err := strconv.Atoi(raw); err == nil {
		return parsed
	}
	return 0
}

func writeStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "not found"})
		return
	}
	// 23503 = foreign_key_violation
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "message": "resource is still referenced"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "storage error"})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
