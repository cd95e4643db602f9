package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/johndoe6345789/pyracms-core/internal/identity/service"
	"github.com/johndoe6345789/pyracms-core/internal/server/interceptors"
	sessiondomain "github.com/johndoe6345789/pyracms-core/internal/session/domain"
	userdomain "github.com/johndoe6345789/pyracms-core/internal/user/domain"
)

// UserResponse is the public view of a user. The password hash is never exposed.
type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toUserResponse(u *userdomain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

type meResponse struct {
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      *UserResponse `json:"user,omitempty"`
}

type updateUserRequest struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}

// HTTPHandler serves the JSON auth and user API.
type HTTPHandler struct {
	auth *service.AuthService
	log  zerolog.Logger
}

// NewHTTPHandler returns an HTTPHandler over auth.
func NewHTTPHandler(auth *service.AuthService, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{auth: auth, log: log}
}

// Register wires the auth and user routes onto mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("GET /api/auth/me", h.handleMe)
	mux.HandleFunc("GET /api/auth/sessions", h.handleSessions)
	mux.HandleFunc("POST /api/auth/logout-all", h.handleLogoutAll)
	mux.HandleFunc("GET /api/users", h.handleListUsers)
	mux.HandleFunc("GET /api/users/{id}", h.handleGetUser)
	mux.HandleFunc("PUT /api/users/{id}", h.handleUpdateUser)
	mux.HandleFunc("DELETE /api/users/{id}", h.handleDeleteUser)
}

func (h *HTTPHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}
	res, err := h.auth.Login(r.Context(), identifier, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, LoginResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		UserID:    res.UserID,
		SessionID: res.SessionID,
	})
}

// handleLogout accepts the token as a Bearer header or a {"token"} body and always succeeds.
func (h *HTTPHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := interceptors.ParseBearer(r.Header.Get("Authorization"))
	if token == "" && r.ContentLength != 0 {
		var req LogoutRequest
		if err := decodeJSON(w, r, &req); err == nil {
			token = req.Token
		}
	}
	_ = h.auth.Logout(r.Context(), token)
	writeData(w, http.StatusOK, struct{}{})
}

func (h *HTTPHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toUserResponse(u))
}

func (h *HTTPHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	resp := meResponse{UserID: id.UserID, SessionID: id.SessionID, ExpiresAt: id.ExpiresAt}
	u, err := h.auth.GetUser(r.Context(), id.UserID)
	if err == nil {
		ur := toUserResponse(u)
		resp.User = &ur
	}
	writeData(w, http.StatusOK, resp)
}

func (h *HTTPHandler) handleSessions(w http.ResponseWriter, r *http.Request) {
	id, token, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	list, err := h.auth.Sessions(r.Context(), token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toSessionResponses(list, id.SessionID))
}

func toSessionResponses(list []*sessiondomain.Session, current string) []sessionResponse {
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, sessionResponse{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			Current:   s.ID == current,
		})
	}
	return out
}

func (h *HTTPHandler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	_, token, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	n, err := h.auth.LogoutAll(r.Context(), token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, LogoutAllResponse{Invalidated: n})
}

func (h *HTTPHandler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.requireAuth(w, r); !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	users, err := h.auth.ListUsers(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeData(w, http.StatusOK, out)
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (h *HTTPHandler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.requireAuth(w, r); !ok {
		return
	}
	u, err := h.auth.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toUserResponse(u))
}

func (h *HTTPHandler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := h.auth.UpdateUser(r.Context(), id, r.PathValue("id"), service.UserUpdate{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toUserResponse(u))
}

func (h *HTTPHandler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	if err := h.auth.DeleteUser(r.Context(), id, r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, struct{}{})
}

// requireAuth authenticates the Bearer header and writes 401 on failure.
func (h *HTTPHandler) requireAuth(w http.ResponseWriter, r *http.Request) (*service.Identity, string, bool) {
	token := interceptors.ParseBearer(r.Header.Get("Authorization"))
	id, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return nil, "", false
	}
	return id, token, true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _, msg := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, msg)
}
