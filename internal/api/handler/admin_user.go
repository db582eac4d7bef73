package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
	"github.com/veo3pk/studio/internal/support/logging"
)

// AdminUserHandler exposes account administration.
type AdminUserHandler struct {
	users    service.AdminUserService
	accounts service.AuthService
	i18n     *i18n.Manager
	logger   *slog.Logger
}

func NewAdminUserHandler(users service.AdminUserService, accounts service.AuthService, i18nMgr *i18n.Manager, logger *slog.Logger) *AdminUserHandler {
	return &AdminUserHandler{users: users, accounts: accounts, i18n: i18nMgr, logger: logging.Component(logger, "http")}
}

func (h *AdminUserHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	q := r.URL.Query()
	filter := repository.UserSearchFilter{
		Keyword:  q.Get("q"),
		PlanType: q.Get("plan_type"),
		Limit:    limit,
		Offset:   offset,
	}
	if raw := q.Get("status"); raw != "" {
		if status, err := strconv.Atoi(raw); err == nil {
			filter.Status = &status
		}
	}
	users, total, err := h.users.Search(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.user.list", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"data":   users,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *AdminUserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.user.get", err)
		return
	}
	detail, err := h.users.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.user.get", err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (h *AdminUserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.user.update", err)
		return
	}
	var input service.AdminUserUpdate
	if err := decodeJSON(r, &input); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.user.update", err)
		return
	}
	user, err := h.users.Update(r.Context(), principal(r).UserID, id, input)
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.user.update", err)
		return
	}
	RespondSuccessI18n(r.Context(), w, "success.updated", h.i18n, user)
}

type adminCreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
}

func (h *AdminUserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req adminCreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.user.create", err)
		return
	}
	user, err := h.accounts.CreateAccount(r.Context(), service.NewAccount{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		IsAdmin:  req.IsAdmin,
	})
	if err != nil {
		respondServiceError(w, r, h.logger, h.i18n, "admin.user.create", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"user": service.NewUserView(user)})
}
