/*
handlers.go - HTTP handlers for the PTO service

PURPOSE:
  Exposes the pto services over REST. Handles HTTP request/response and JSON
  serialization and delegates everything else to the pto package.

ENDPOINTS:
  Users:
    GET    /api/me                         Current user (created on first call)
    GET    /api/users                      List users
    POST   /api/users                      Create user
    GET    /api/users/search?q=            Search local users and the directory
    GET    /api/users/{id}                 Get user
    PUT    /api/users/{id}                 Edit profile
    PUT    /api/users/{id}/allocation      Set yearly allocation
    POST   /api/users/{id}/deactivate      Mark inactive
    POST   /api/users/{id}/recalculate     Recompute used/remaining days
    GET    /api/users/{id}/managers        Managers of the user's teams
    GET    /api/users/{id}/requests        The user's requests
    GET    /api/users/{id}/schedules       The user's daily schedules

  Teams:
    GET|POST        /api/teams
    GET|PUT|DELETE  /api/teams/{id}
    GET|POST        /api/teams/{id}/members
    DELETE          /api/teams/{id}/members/{userID}

  Requests:
    GET|POST        /api/requests
    GET|PUT|DELETE  /api/requests/{id}
    POST            /api/requests/{id}/approve
    POST            /api/requests/{id}/decline
    GET             /api/managers/{id}/pending

  Schedules:
    GET    /api/schedules?start=&end=      Schedules inside a date range

  Integration:
    GET    /api/integration/tasks?status=  Outbox tasks
    POST   /api/integration/deliver        Retry pending deliveries now

RESPONSES:
  Every response is a pto.Result envelope. The HTTP status follows the
  envelope code:
  - 400: validation, unknown_collection
  - 401: unauthenticated
  - 404: not_found
  - 409: invalid_transition
  - 500: internal

SEE ALSO:
  - dto.go: Request bodies
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/pto-service/logging"
	"github.com/warp/pto-service/platform"
	"github.com/warp/pto-service/pto"
	"github.com/warp/pto-service/record"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	svc    *pto.Service
	health func(ctx context.Context) error
	logger *zap.Logger
}

// NewHandler creates a handler over svc. health reports storage reachability
// and may be nil.
func NewHandler(svc *pto.Service, health func(ctx context.Context) error, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, health: health, logger: logger}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Users.GetOrCreateCurrentUser(r.Context())
	h.respond(w, r, http.StatusOK, u, err)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Users.List(r.Context())
	h.respond(w, r, http.StatusOK, users, err)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	matches, err := h.svc.Users.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	h.respond(w, r, http.StatusOK, matches, err)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var in pto.User
	if !h.decode(w, r, &in) {
		return
	}
	u, err := h.svc.Users.Create(r.Context(), in)
	h.respond(w, r, http.StatusCreated, u, err)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Users.Get(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, u, err)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var in pto.UserUpdate
	if !h.decode(w, r, &in) {
		return
	}
	u, err := h.svc.Users.Update(r.Context(), chi.URLParam(r, "id"), in)
	h.respond(w, r, http.StatusOK, u, err)
}

func (h *Handler) SetAllocation(w http.ResponseWriter, r *http.Request) {
	var in pto.DayCounts
	if !h.decode(w, r, &in) {
		return
	}
	b, err := h.svc.Users.SetAllocation(r.Context(), chi.URLParam(r, "id"), in)
	h.respond(w, r, http.StatusOK, b, err)
}

func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Users.Deactivate(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, u, err)
}

func (h *Handler) RecalculateBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Balances.Recalculate(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, b, err)
}

func (h *Handler) UserManagers(w http.ResponseWriter, r *http.Request) {
	managers, err := h.svc.Users.GetUserManagers(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, managers, err)
}

func (h *Handler) UserRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.svc.Requests.ListForUser(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, reqs, err)
}

func (h *Handler) UserSchedules(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.Schedules.ForUser(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, rows, err)
}

// =============================================================================
// TEAM HANDLERS
// =============================================================================

func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.svc.Teams.List(r.Context())
	h.respond(w, r, http.StatusOK, teams, err)
}

func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var in pto.Team
	if !h.decode(w, r, &in) {
		return
	}
	t, err := h.svc.Teams.Create(r.Context(), in)
	h.respond(w, r, http.StatusCreated, t, err)
}

func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Teams.Get(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, t, err)
}

func (h *Handler) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	var in pto.TeamUpdate
	if !h.decode(w, r, &in) {
		return
	}
	t, err := h.svc.Teams.Update(r.Context(), chi.URLParam(r, "id"), in)
	h.respond(w, r, http.StatusOK, t, err)
}

func (h *Handler) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.svc.Teams.Delete(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, DeleteDTO{Deleted: deleted}, err)
}

func (h *Handler) TeamMembers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Teams.Members(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, users, err)
}

func (h *Handler) AddTeamMember(w http.ResponseWriter, r *http.Request) {
	var in MemberBody
	if !h.decode(w, r, &in) {
		return
	}
	u, err := h.svc.Teams.AddMember(r.Context(), chi.URLParam(r, "id"), in.UserID, in.Role)
	h.respond(w, r, http.StatusOK, u, err)
}

func (h *Handler) RemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Teams.RemoveMember(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	h.respond(w, r, http.StatusOK, u, err)
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// requestFilters are the query parameters accepted by ListRequests.
var requestFilters = []string{"status", "requester_id", "manager_id", "executive_manager_id", "leave_type"}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filters := record.Filters{}
	q := r.URL.Query()
	for _, name := range requestFilters {
		if v := q.Get(name); v != "" {
			filters[name] = v
		}
	}
	reqs, err := h.svc.Requests.List(r.Context(), filters)
	h.respond(w, r, http.StatusOK, reqs, err)
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var in pto.CreateRequestInput
	if !h.decode(w, r, &in) {
		return
	}
	req, err := h.svc.Requests.Create(r.Context(), in)
	h.respond(w, r, http.StatusCreated, req, err)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.Requests.Get(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, req, err)
}

func (h *Handler) UpdateRequest(w http.ResponseWriter, r *http.Request) {
	var in pto.UpdateRequestInput
	if !h.decode(w, r, &in) {
		return
	}
	req, err := h.svc.Requests.Update(r.Context(), chi.URLParam(r, "id"), in)
	h.respond(w, r, http.StatusOK, req, err)
}

func (h *Handler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.svc.Requests.Delete(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, DeleteDTO{Deleted: deleted}, err)
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var in ApproveBody
	if !h.decodeOptional(w, r, &in) {
		return
	}
	req, err := h.svc.Requests.Approve(r.Context(), chi.URLParam(r, "id"), actor(r, in.ApproverID))
	h.respond(w, r, http.StatusOK, req, err)
}

func (h *Handler) DeclineRequest(w http.ResponseWriter, r *http.Request) {
	var in DeclineBody
	if !h.decodeOptional(w, r, &in) {
		return
	}
	req, err := h.svc.Requests.Decline(r.Context(), chi.URLParam(r, "id"), actor(r, in.DeclinerID), in.Reason)
	h.respond(w, r, http.StatusOK, req, err)
}

func (h *Handler) PendingForManager(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.svc.Requests.PendingForManager(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, http.StatusOK, reqs, err)
}

// actor returns explicit, or the caller's account id when explicit is empty.
func actor(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if c, ok := platform.CallerFrom(r.Context()); ok {
		return c.AccountID
	}
	return ""
}

// =============================================================================
// SCHEDULE AND INTEGRATION HANDLERS
// =============================================================================

func (h *Handler) SchedulesInRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.svc.Schedules.InRange(r.Context(), q.Get("start"), q.Get("end"))
	h.respond(w, r, http.StatusOK, rows, err)
}

func (h *Handler) ListIntegrationTasks(w http.ResponseWriter, r *http.Request) {
	if h.svc.Outbox == nil {
		h.respond(w, r, http.StatusOK, []pto.Task{}, nil)
		return
	}
	tasks, err := h.svc.Outbox.List(r.Context(), pto.TaskStatus(r.URL.Query().Get("status")))
	h.respond(w, r, http.StatusOK, tasks, err)
}

func (h *Handler) DeliverPending(w http.ResponseWriter, r *http.Request) {
	var out DeliveryDTO
	if h.svc.Outbox != nil {
		out.Delivered, out.Failed = h.svc.Outbox.DeliverPending(r.Context())
	}
	h.respond(w, r, http.StatusOK, out, nil)
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			logging.FromContext(r.Context(), h.logger).Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, pto.Result{
				Success: false,
				Message: err.Error(),
				Code:    pto.CodeInternal,
				Data:    HealthDTO{Status: "degraded", Storage: "unreachable"},
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, pto.OK(HealthDTO{Status: "ok", Storage: "ok"}))
}

// =============================================================================
// HELPERS
// =============================================================================

// respond writes data with status on success and the classified failure otherwise.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, data any, err error) {
	if err != nil {
		res := pto.Fail(err)
		code := httpStatus(res.Code)
		if code >= http.StatusInternalServerError {
			logging.FromContext(r.Context(), h.logger).Error("request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
		}
		writeJSON(w, code, res)
		return
	}
	writeJSON(w, status, pto.OK(data))
}

func httpStatus(code string) int {
	switch code {
	case pto.CodeNotFound:
		return http.StatusNotFound
	case pto.CodeValidation, pto.CodeUnknownCollection:
		return http.StatusBadRequest
	case pto.CodeInvalidTransition, pto.CodeConflict:
		return http.StatusConflict
	case pto.CodeUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a required JSON body into v. On failure the response has
// been written and decode returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respond(w, r, 0, nil, &pto.InputError{Field: "body", Reason: err.Error()})
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.respond(w, r, 0, nil, &pto.InputError{Field: "body", Reason: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
