// Package handler exposes the reminder CRUD endpoints. All routes require an
// authenticated user and only ever touch that user's reminders.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"perroquet/internal/platform/middleware"
	"perroquet/internal/reminder/models"
	"perroquet/internal/reminder/service"
	jsonResponse "perroquet/internal/transport/http/json"
	id "perroquet/pkg/domain"
	dErrors "perroquet/pkg/domain-errors"
	"perroquet/pkg/validation"
)

// Service defines the reminder operations the handler exposes.
type Service interface {
	Create(ctx context.Context, userID id.UserID, params service.Params) (*models.Reminder, error)
	Get(ctx context.Context, reminderID id.ReminderID, userID id.UserID) (*models.Reminder, error)
	Update(ctx context.Context, reminderID id.ReminderID, userID id.UserID, params service.Params) (*models.Reminder, error)
	Delete(ctx context.Context, reminderID id.ReminderID, userID id.UserID) error
	List(ctx context.Context, userID id.UserID, after models.Cursor, limit int) ([]*models.Reminder, models.Cursor, error)
}

// Handler handles the reminder endpoints.
type Handler struct {
	reminders Service
	logger    *slog.Logger
}

// New creates a reminder Handler.
func New(reminders Service, logger *slog.Logger) *Handler {
	return &Handler{reminders: reminders, logger: logger}
}

// Register mounts the reminder routes. The parent router applies the auth
// middleware.
func (h *Handler) Register(r chi.Router) {
	r.Post("/reminders", h.HandleCreate)
	r.Get("/reminders", h.HandleList)
	r.Get("/reminders/{reminder_id}", h.HandleGet)
	r.Put("/reminders/{reminder_id}", h.HandleUpdate)
	r.Delete("/reminders/{reminder_id}", h.HandleDelete)
}

type reminderRequest struct {
	Title     *string   `json:"title" validate:"omitempty,max=256"`
	Body      string    `json:"body" validate:"required,notblank,max=4096"`
	Tags      []string  `json:"tags" validate:"omitempty,dive,notblank,max=64"`
	TriggerAt time.Time `json:"trigger_at" validate:"required"`
}

func (r reminderRequest) params() service.Params {
	return service.Params{
		Title:     r.Title,
		Body:      r.Body,
		Tags:      r.Tags,
		TriggerAt: r.TriggerAt,
	}
}

type reminderResponse struct {
	ID        id.ReminderID `json:"id"`
	Title     *string       `json:"title,omitempty"`
	Body      string        `json:"body"`
	Tags      []string      `json:"tags,omitempty"`
	TriggerAt time.Time     `json:"trigger_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	CreatedAt time.Time     `json:"created_at"`
}

func toResponse(r *models.Reminder) reminderResponse {
	return reminderResponse{
		ID:        r.ID,
		Title:     r.Title,
		Body:      r.Body,
		Tags:      r.Tags,
		TriggerAt: r.TriggerAt,
		UpdatedAt: r.UpdatedAt,
		CreatedAt: r.CreatedAt,
	}
}

type cursorResponse struct {
	TriggerAt time.Time     `json:"trigger_at"`
	ID        id.ReminderID `json:"id"`
}

type listResponse struct {
	Reminders []reminderResponse `json:"reminders"`
	Next      *cursorResponse    `json:"next,omitempty"`
}

// HandleCreate implements POST /reminders.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.subject(w, ctx)
	if !ok {
		return
	}
	var req reminderRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validation.Validate(&req); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	reminder, err := h.reminders.Create(ctx, userID, req.params())
	if err != nil {
		jsonResponse.WriteError(w, err)
		return
	}
	jsonResponse.WriteJSON(w, http.StatusCreated, toResponse(reminder))
}

// HandleList implements GET /reminders with keyset pagination: pass the
// previous page's next cursor back as after_trigger_at and after_id.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.subject(w, ctx)
	if !ok {
		return
	}

	after, limit, err := listParams(r)
	if err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	reminders, next, err := h.reminders.List(ctx, userID, after, limit)
	if err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	resp := listResponse{Reminders: make([]reminderResponse, 0, len(reminders))}
	for _, reminder := range reminders {
		resp.Reminders = append(resp.Reminders, toResponse(reminder))
	}
	if !next.TriggerAt.IsZero() {
		resp.Next = &cursorResponse{TriggerAt: next.TriggerAt, ID: next.ID}
	}
	jsonResponse.WriteJSON(w, http.StatusOK, resp)
}

// HandleGet implements GET /reminders/{reminder_id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.subject(w, ctx)
	if !ok {
		return
	}
	reminderID, err := id.ParseReminderID(chi.URLParam(r, "reminder_id"))
	if err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	reminder, err := h.reminders.Get(ctx, reminderID, userID)
	if err != nil {
		jsonResponse.WriteError(w, err)
		return
	}
	jsonResponse.WriteJSON(w, http.StatusOK, toResponse(reminder))
}

// HandleUpdate implements PUT /reminders/{reminder_id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.subject(w, ctx)
	if !ok {
		return
	}
	reminderID, err := id.ParseReminderID(chi.URLParam(r, "reminder_id"))
	if err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	var req reminderRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validation.Validate(&req); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	reminder, err := h.reminders.Update(ctx, reminderID, userID, req.params())
	if err != nil {
		jsonResponse.WriteError(w, err)
		return
	}
	jsonResponse.WriteJSON(w, http.StatusOK, toResponse(reminder))
}

// HandleDelete implements DELETE /reminders/{reminder_id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.subject(w, ctx)
	if !ok {
		return
	}
	reminderID, err := id.ParseReminderID(chi.URLParam(r, "reminder_id"))
	if err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	if err := h.reminders.Delete(ctx, reminderID, userID); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func listParams(r *http.Request) (models.Cursor, int, error) {
	var after models.Cursor
	query := r.URL.Query()

	if v := query.Get("after_trigger_at"); v != "" {
		triggerAt, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return models.Cursor{}, 0, dErrors.New(dErrors.CodeInvalidInput, "after_trigger_at must be RFC 3339")
		}
		after.TriggerAt = triggerAt

		if rawID := query.Get("after_id"); rawID != "" {
			afterID, err := id.ParseReminderID(rawID)
			if err != nil {
				return models.Cursor{}, 0, err
			}
			after.ID = afterID
		}
	}

	limit := 0
	if v := query.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return models.Cursor{}, 0, dErrors.New(dErrors.CodeInvalidInput, "limit must be a non-negative integer")
		}
		limit = parsed
	}
	return after, limit, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		h.logger.WarnContext(r.Context(), "failed to decode request body",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		jsonResponse.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

func (h *Handler) subject(w http.ResponseWriter, ctx context.Context) (id.UserID, bool) {
	userID, err := id.ParseUserID(middleware.GetSubject(ctx))
	if err != nil {
		jsonResponse.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
		return id.UserID{}, false
	}
	return userID, true
}
