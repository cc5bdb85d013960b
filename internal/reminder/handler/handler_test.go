package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perroquet/internal/platform/middleware"
	"perroquet/internal/reminder/service"
	reminderstore "perroquet/internal/reminder/store/reminder"
	id "perroquet/pkg/domain"
)

func newTestRouter(t *testing.T, subject string) *chi.Mux {
	t.Helper()
	svc := service.New(reminderstore.New(), service.WithLogger(slog.New(slog.DiscardHandler)))
	h := New(svc, slog.New(slog.DiscardHandler))

	router := chi.NewRouter()
	router.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(middleware.WithSubject(req.Context(), subject)))
			})
		})
		h.Register(r)
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
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createReminder(t *testing.T, router http.Handler, body string, triggerAt time.Time) reminderResponse {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/reminders", map[string]any{
		"body":       body,
		"trigger_at": triggerAt.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp reminderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func Test_CreateGetUpdateDelete(t *testing.T) {
	router := newTestRouter(t, id.NewUserID().String())
	triggerAt := time.Now().Add(time.Hour).Truncate(time.Second)

	created := createReminder(t, router, "water the plants", triggerAt)
	assert.Equal(t, "water the plants", created.Body)
	assert.False(t, created.ID.IsNil())

	rec := doJSON(t, router, http.MethodGet, "/reminders/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPut, "/reminders/"+created.ID.String(), map[string]any{
		"body":       "water the plants twice",
		"tags":       []string{"garden"},
		"trigger_at": triggerAt.Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated reminderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "water the plants twice", updated.Body)
	assert.Equal(t, []string{"garden"}, updated.Tags)

	rec = doJSON(t, router, http.MethodDelete, "/reminders/"+created.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/reminders/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_Create_RejectsEmptyBody(t *testing.T) {
	router := newTestRouter(t, id.NewUserID().String())
	rec := doJSON(t, router, http.MethodPost, "/reminders", map[string]any{
		"body":       "   ",
		"trigger_at": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_List_PagesWithCursor(t *testing.T) {
	router := newTestRouter(t, id.NewUserID().String())
	// UTC keeps the cursor timestamp query-string safe (no "+" offset).
	base := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	for i := 0; i < 5; i++ {
		createReminder(t, router, fmt.Sprintf("reminder %d", i), base.Add(time.Duration(i)*time.Minute))
	}

	rec := doJSON(t, router, http.MethodGet, "/reminders?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page1 listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page1))
	require.Len(t, page1.Reminders, 2)
	require.NotNil(t, page1.Next)

	path := fmt.Sprintf("/reminders?limit=10&after_trigger_at=%s&after_id=%s",
		page1.Next.TriggerAt.Format(time.RFC3339), page1.Next.ID)
	rec = doJSON(t, router, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page2 listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page2))
	require.Len(t, page2.Reminders, 3)
	assert.Nil(t, page2.Next)

	// No row appears on both pages.
	seen := map[string]bool{}
	for _, r := range page1.Reminders {
		seen[r.ID.String()] = true
	}
	for _, r := range page2.Reminders {
		assert.False(t, seen[r.ID.String()])
	}
}

func Test_RequiresAuthenticatedSubject(t *testing.T) {
	router := newTestRouter(t, "")
	rec := doJSON(t, router, http.MethodGet, "/reminders", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_OwnerIsolation(t *testing.T) {
	store := reminderstore.New()
	svc := service.New(store, service.WithLogger(slog.New(slog.DiscardHandler)))
	h := New(svc, slog.New(slog.DiscardHandler))

	mount := func(subject string) *chi.Mux {
		router := chi.NewRouter()
		router.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					next.ServeHTTP(w, req.WithContext(middleware.WithSubject(req.Context(), subject)))
				})
			})
			h.Register(r)
		})
		return router
	}

	owner := mount(id.NewUserID().String())
	stranger := mount(id.NewUserID().String())

	created := createReminder(t, owner, "private", time.Now().Add(time.Hour))

	rec := doJSON(t, stranger, http.MethodGet, "/reminders/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, stranger, http.MethodDelete, "/reminders/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
