// Package handler exposes the account and session endpoints.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mssola/useragent"

	"perroquet/internal/auth/apple"
	"perroquet/internal/auth/models"
	"perroquet/internal/auth/service"
	"perroquet/internal/platform/middleware"
	jsonResponse "perroquet/internal/transport/http/json"
	id "perroquet/pkg/domain"
	dErrors "perroquet/pkg/domain-errors"
	"perroquet/pkg/validation"
)

// Service defines the account and session operations the handler exposes.
type Service interface {
	SignUp(ctx context.Context, params service.SignUpParams) (*models.AccessInfo, error)
	SignIn(ctx context.Context, email, password, deviceName string) (*models.AccessInfo, error)
	SignInWithApple(ctx context.Context, code string, surface apple.Surface, deviceName string) (*models.AccessInfo, error)
	Refresh(ctx context.Context, presentedSecret string) (*models.AccessInfo, error)
	SignOut(ctx context.Context, sessionID id.SessionID, userID id.UserID) error
	RegisterMessagingToken(ctx context.Context, sessionID id.SessionID, userID id.UserID, messagingToken string) (*models.Session, error)
	RequestEmailUpdate(ctx context.Context, userID id.UserID, newEmail string) error
	ConfirmEmailUpdate(ctx context.Context, userID id.UserID, confirmToken string) error
	RequestPasswordUpdate(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, resetToken, newPassword string) error
}

// Handler handles the auth endpoints.
type Handler struct {
	auth   Service
	logger *slog.Logger
}

// New creates an auth Handler.
func New(auth Service, logger *slog.Logger) *Handler {
	return &Handler{auth: auth, logger: logger}
}

// Register mounts the public auth routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/signup", h.HandleSignUp)
	r.Post("/auth/signin", h.HandleSignIn)
	r.Post("/auth/signin/apple", h.HandleSignInWithApple)
	r.Post("/auth/refresh", h.HandleRefresh)
	r.Post("/auth/password/forgot", h.HandleForgotPassword)
	r.Post("/auth/password/reset", h.HandleResetPassword)
}

// RegisterProtected mounts the routes that require a valid access token.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Delete("/auth/sessions/{session_id}", h.HandleSignOut)
	r.Put("/auth/sessions/{session_id}/messaging-token", h.HandleRegisterMessagingToken)
	r.Post("/auth/email", h.HandleRequestEmailUpdate)
	r.Post("/auth/email/confirm", h.HandleConfirmEmailUpdate)
}

// HandleSignUp implements POST /auth/signup.
func (h *Handler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req signUpRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.sanitize()
	if err := validation.Validate(&req); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	info, err := h.auth.SignUp(ctx, service.SignUpParams{
		Username:   req.Username,
		Email:      req.Email,
		Password:   req.Password,
		DeviceName: deviceName(r),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "sign-up failed",
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		jsonResponse.WriteError(w, err)
		return
	}

	jsonResponse.WriteJSON(w, http.StatusCreated, info)
}

// HandleSignIn implements POST /auth/signin.
func (h *Handler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req signInRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.sanitize()
	if err := validation.Validate(&req); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	info, err := h.auth.SignIn(ctx, req.Email, req.Password, deviceName(r))
	if err != nil {
		jsonResponse.WriteError(w, err)
		return
	}
	jsonResponse.WriteJSON(w, http.StatusOK, info)
}

// HandleSignInWithApple implements POST /auth/signin/apple.
func (h *Handler) HandleSignInWithApple(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req appleSignInRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.sanitize()
	if err := validation.Validate(&req); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	surface, err := apple.ParseSurface(req.Surface)
	if err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	info, err := h.auth.SignInWithApple(ctx, req.Code, surface, deviceName(r))
	if err != nil {
		h.logger.WarnContext(ctx, "apple sign-in failed",
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		jsonResponse.WriteError(w, err)
		return
	}
	jsonResponse.WriteJSON(w, http.StatusOK, info)
}

// HandleRefresh implements POST /auth/refresh. The presented refresh token is
// spent by this call whether or not a new one is issued to this caller.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validation.Validate(&req); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	info, err := h.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		jsonResponse.WriteError(w, err)
		return
	}
	jsonResponse.WriteJSON(w, http.StatusOK, info)
}

// HandleSignOut implements DELETE /auth/sessions/{session_id}.
func (h *Handler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.subject(w, ctx)
	if !ok {
		return
	}
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "session_id"))
	if err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	if err := h.auth.SignOut(ctx, sessionID, userID); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRegisterMessagingToken implements
// PUT /auth/sessions/{session_id}/messaging-token.
func (h *Handler) HandleRegisterMessagingToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.subject(w, ctx)
	if !ok {
		return
	}
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "session_id"))
	if err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	var req messagingTokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validation.Validate(&req); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	if _, err := h.auth.RegisterMessagingToken(ctx, sessionID, userID, req.MessagingToken); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRequestEmailUpdate implements POST /auth/email.
func (h *Handler) HandleRequestEmailUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.subject(w, ctx)
	if !ok {
		return
	}

	var req emailUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.sanitize()
	if err := validation.Validate(&req); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	if err := h.auth.RequestEmailUpdate(ctx, userID, req.Email); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleConfirmEmailUpdate implements POST /auth/email/confirm.
func (h *Handler) HandleConfirmEmailUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.subject(w, ctx)
	if !ok {
		return
	}

	var req emailConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validation.Validate(&req); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	if err := h.auth.ConfirmEmailUpdate(ctx, userID, req.Token); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleForgotPassword implements POST /auth/password/forgot. The response is
// identical whether or not the address belongs to an account.
func (h *Handler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req passwordForgotRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.sanitize()
	if err := validation.Validate(&req); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	if err := h.auth.RequestPasswordUpdate(ctx, req.Email); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleResetPassword implements POST /auth/password/reset.
func (h *Handler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req passwordResetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validation.Validate(&req); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}

	if err := h.auth.UpdatePassword(ctx, req.Token, req.Password); err != nil {
		jsonResponse.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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

// deviceName derives a readable label for the session from the User-Agent
// header, "Unknown device" when there is none.
func deviceName(r *http.Request) string {
	ua := useragent.New(r.UserAgent())
	if ua == nil {
		return "Unknown device"
	}
	name, _ := ua.Browser()
	os := ua.OSInfo().Name
	switch {
	case name != "" && os != "":
		return name + " on " + os
	case name != "":
		return name
	case os != "":
		return os
	default:
		return "Unknown device"
	}
}
