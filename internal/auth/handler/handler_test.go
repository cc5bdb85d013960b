package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perroquet/internal/auth/apple"
	"perroquet/internal/auth/models"
	"perroquet/internal/auth/service"
	"perroquet/internal/platform/middleware"
	id "perroquet/pkg/domain"
	dErrors "perroquet/pkg/domain-errors"
)

// stubAuth implements Service with overridable functions; unset operations
// fail the test if reached.
type stubAuth struct {
	t *testing.T

	signUp          func(ctx context.Context, params service.SignUpParams) (*models.AccessInfo, error)
	signIn          func(ctx context.Context, email, password, deviceName string) (*models.AccessInfo, error)
	signInWithApple func(ctx context.Context, code string, surface apple.Surface, deviceName string) (*models.AccessInfo, error)
	refresh         func(ctx context.Context, presentedSecret string) (*models.AccessInfo, error)
	signOut         func(ctx context.Context, sessionID id.SessionID, userID id.UserID) error
	registerToken   func(ctx context.Context, sessionID id.SessionID, userID id.UserID, messagingToken string) (*models.Session, error)
}

func (s *stubAuth) SignUp(ctx context.Context, params service.SignUpParams) (*models.AccessInfo, error) {
	if s.signUp == nil {
		s.t.Fatal("unexpected SignUp call")
	}
	return s.signUp(ctx, params)
}

func (s *stubAuth) SignIn(ctx context.Context, email, password, deviceName string) (*models.AccessInfo, error) {
	if s.signIn == nil {
		s.t.Fatal("unexpected SignIn call")
	}
	return s.signIn(ctx, email, password, deviceName)
}

func (s *stubAuth) SignInWithApple(ctx context.Context, code string, surface apple.Surface, deviceName string) (*models.AccessInfo, error) {
	if s.signInWithApple == nil {
		s.t.Fatal("unexpected SignInWithApple call")
	}
	return s.signInWithApple(ctx, code, surface, deviceName)
}

func (s *stubAuth) Refresh(ctx context.Context, presentedSecret string) (*models.AccessInfo, error) {
	if s.refresh == nil {
		s.t.Fatal("unexpected Refresh call")
	}
	return s.refresh(ctx, presentedSecret)
}

func (s *stubAuth) SignOut(ctx context.Context, sessionID id.SessionID, userID id.UserID) error {
	if s.signOut == nil {
		s.t.Fatal("unexpected SignOut call")
	}
	return s.signOut(ctx, sessionID, userID)
}

func (s *stubAuth) RegisterMessagingToken(ctx context.Context, sessionID id.SessionID, userID id.UserID, messagingToken string) (*models.Session, error) {
	if s.registerToken == nil {
		s.t.Fatal("unexpected RegisterMessagingToken call")
	}
	return s.registerToken(ctx, sessionID, userID, messagingToken)
}

func (s *stubAuth) RequestEmailUpdate(context.Context, id.UserID, string) error {
	s.t.Fatal("unexpected RequestEmailUpdate call")
	return nil
}

func (s *stubAuth) ConfirmEmailUpdate(context.Context, id.UserID, string) error {
	s.t.Fatal("unexpected ConfirmEmailUpdate call")
	return nil
}

func (s *stubAuth) RequestPasswordUpdate(context.Context, string) error {
	s.t.Fatal("unexpected RequestPasswordUpdate call")
	return nil
}

func (s *stubAuth) UpdatePassword(context.Context, string, string) error {
	s.t.Fatal("unexpected UpdatePassword call")
	return nil
}

func newTestRouter(t *testing.T, stub *stubAuth, subject string) *chi.Mux {
	t.Helper()
	h := New(stub, slog.New(slog.DiscardHandler))
	router := chi.NewRouter()
	h.Register(router)
	router.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(middleware.WithSubject(req.Context(), subject)))
			})
		})
		h.RegisterProtected(r)
	})
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func Test_HandleSignUp(t *testing.T) {
	stub := &stubAuth{t: t}
	stub.signUp = func(_ context.Context, params service.SignUpParams) (*models.AccessInfo, error) {
		assert.Equal(t, "a@example.com", params.Email)
		assert.Contains(t, params.DeviceName, "Firefox")
		return &models.AccessInfo{
			AccessToken:   "token",
			RefreshSecret: "refresh",
			SessionID:     id.NewSessionID(),
		}, nil
	}
	router := newTestRouter(t, stub, "")

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", map[string]string{
		"email":    "a@example.com",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "token", resp["access_token"])
	assert.Equal(t, "refresh", resp["refresh_token"])
	assert.NotEmpty(t, resp["session_id"])
}

func Test_HandleSignUp_RejectsShortPassword(t *testing.T) {
	// No stub functions set: the service must never be reached.
	router := newTestRouter(t, &stubAuth{t: t}, "")

	rec := doJSON(t, router, http.MethodPost, "/auth/signup", map[string]string{
		"email":    "a@example.com",
		"password": "short",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation_failed", resp["error"])
}

func Test_HandleSignInWithApple_UnknownSurface(t *testing.T) {
	router := newTestRouter(t, &stubAuth{t: t}, "")

	rec := doJSON(t, router, http.MethodPost, "/auth/signin/apple", map[string]string{
		"code":    "abc",
		"surface": "desktop",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_HandleRefresh_RejectionMapsTo401(t *testing.T) {
	stub := &stubAuth{t: t}
	stub.refresh = func(context.Context, string) (*models.AccessInfo, error) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid refresh token")
	}
	router := newTestRouter(t, stub, "")

	rec := doJSON(t, router, http.MethodPost, "/auth/refresh", map[string]string{
		"refresh_token": "spent-secret",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unauthorized", resp["error"])
}

func Test_HandleSignOut(t *testing.T) {
	userID := id.NewUserID()
	sessionID := id.NewSessionID()

	stub := &stubAuth{t: t}
	stub.signOut = func(_ context.Context, gotSession id.SessionID, gotUser id.UserID) error {
		assert.Equal(t, sessionID, gotSession)
		assert.Equal(t, userID, gotUser)
		return nil
	}
	router := newTestRouter(t, stub, userID.String())

	rec := doJSON(t, router, http.MethodDelete, "/auth/sessions/"+sessionID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func Test_HandleSignOut_MalformedSessionID(t *testing.T) {
	router := newTestRouter(t, &stubAuth{t: t}, id.NewUserID().String())
	rec := doJSON(t, router, http.MethodDelete, "/auth/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_HandleRegisterMessagingToken(t *testing.T) {
	userID := id.NewUserID()
	sessionID := id.NewSessionID()

	stub := &stubAuth{t: t}
	stub.registerToken = func(_ context.Context, _ id.SessionID, _ id.UserID, token string) (*models.Session, error) {
		assert.Equal(t, "fcm-token", token)
		return &models.Session{ID: sessionID, UserID: userID}, nil
	}
	router := newTestRouter(t, stub, userID.String())

	rec := doJSON(t, router, http.MethodPut, "/auth/sessions/"+sessionID.String()+"/messaging-token", map[string]string{
		"messaging_token": "fcm-token",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
