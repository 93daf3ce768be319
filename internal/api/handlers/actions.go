// Package handlers contains the HTTP handler implementations for the saaskit
// API. Handlers depend on locally defined interfaces following the handler
// injection pattern, keeping them decoupled from concrete services.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"saaskit/internal/core"
	"saaskit/internal/scheduler"
	"saaskit/internal/types"
)

// defaultListLimit bounds list responses when no limit is given.
const defaultListLimit = 50

// ActionScheduler is the scheduling contract the actions handler needs.
// Mirrors the concrete scheduler.Scheduler methods used here.
type ActionScheduler interface {
	ScheduleAction(ctx context.Context, actionType string, payload types.Payload, opts *scheduler.Options) (string, error)
	ScheduleRecurringAction(ctx context.Context, actionType string, payload types.Payload, interval string, opts *scheduler.Options) (string, error)
	CancelScheduledAction(ctx context.Context, id string) (bool, error)
}

// ActionReader provides read access to scheduled actions.
type ActionReader interface {
	GetByID(ctx context.Context, id string) (*types.ScheduledAction, error)
	ListByTeam(ctx context.Context, teamID string, limit int) ([]types.ScheduledAction, error)
}

// ScheduleActionRequest is the request body for POST /v1/actions.
type ScheduleActionRequest struct {
	ActionType        string         `json:"action_type" validate:"required,max=100"`
	Payload           map[string]any `json:"payload,omitempty"`
	ScheduledAt       *time.Time     `json:"scheduled_at,omitempty"`
	RecurringInterval string         `json:"recurring_interval,omitempty" validate:"omitempty,max=100"`
	RecurrenceType    string         `json:"recurrence_type,omitempty" validate:"omitempty,oneof=fixed rolling"`
	LockGroup         string         `json:"lock_group,omitempty" validate:"omitempty,max=100"`
	MaxRetries        int            `json:"max_retries,omitempty" validate:"omitempty,min=1,max=10"`
}

// ScheduleActionResponse is returned from schedule endpoints.
type ScheduleActionResponse struct {
	ActionID string `json:"action_id"`
}

// CancelActionResponse reports the outcome of a cancel request.
type CancelActionResponse struct {
	ActionID  string `json:"action_id"`
	Cancelled bool   `json:"cancelled"`
}

// ActionHandler manages scheduled action endpoints.
type ActionHandler struct {
	scheduler ActionScheduler
	reader    ActionReader
	validator *core.Validator
	logger    *slog.Logger
}

// NewActionHandler creates an ActionHandler with the provided dependencies.
func NewActionHandler(s ActionScheduler, reader ActionReader, v *core.Validator, l *slog.Logger) *ActionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ActionHandler{
		scheduler: s,
		reader:    reader,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts action routes on the provided chi.Router.
func (h *ActionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/actions", func(r chi.Router) {
		r.Post("/", h.Schedule)
		r.Get("/", h.List)
		r.Get("/{actionID}", h.Get)
		r.Delete("/{actionID}", h.Cancel)
	})
}

// Schedule handles POST /v1/actions. A request carrying recurring_interval
// schedules a recurring action; otherwise a one-shot action, deduplicated
// when the payload names an entityId.
func (h *ActionHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleActionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	actor, _ := types.GetActor(r.Context())

	opts := &scheduler.Options{
		TeamID:         actor.TeamID,
		RecurrenceType: types.RecurrenceType(req.RecurrenceType),
		LockGroup:      req.LockGroup,
		MaxRetries:     req.MaxRetries,
	}
	if req.ScheduledAt != nil {
		opts.ScheduledAt = *req.ScheduledAt
	}

	var (
		id  string
		err error
	)
	if req.RecurringInterval != "" {
		id, err = h.scheduler.ScheduleRecurringAction(r.Context(), req.ActionType, req.Payload, req.RecurringInterval, opts)
	} else {
		id, err = h.scheduler.ScheduleAction(r.Context(), req.ActionType, req.Payload, opts)
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: ScheduleActionResponse{ActionID: id}})
}

// Get handles GET /v1/actions/{actionID}. Actions belonging to another team
// are reported as not found rather than forbidden.
func (h *ActionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "actionID")

	action, err := h.reader.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	actor, _ := types.GetActor(r.Context())
	if action == nil || !ownedBy(action, actor.TeamID) {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundAction, "scheduled action not found", nil))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: action})
}

// List handles GET /v1/actions for the authenticated team.
func (h *ActionHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationPayload,
				"limit must be an integer between 1 and 200", nil))
			return
		}
		limit = parsed
	}

	actions, err := h.reader.ListByTeam(r.Context(), actor.TeamID, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: actions})
}

// Cancel handles DELETE /v1/actions/{actionID}. Cancelling an action that is
// already running, finished, or cancelled reports cancelled=false.
func (h *ActionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "actionID")

	action, err := h.reader.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	actor, _ := types.GetActor(r.Context())
	if action == nil || !ownedBy(action, actor.TeamID) {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundAction, "scheduled action not found", nil))
		return
	}

	cancelled, err := h.scheduler.CancelScheduledAction(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CancelActionResponse{
		ActionID:  id,
		Cancelled: cancelled,
	}})
}

// ownedBy reports whether an action belongs to the given team. Actions with
// no team (platform-internal) are never visible through the API.
func ownedBy(action *types.ScheduledAction, teamID string) bool {
	return action.TeamID != nil && *action.TeamID == teamID
}
