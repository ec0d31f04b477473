package users

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"realtime-chat/core"
	"realtime-chat/stores/memory"

	"github.com/go-chi/chi/v5"
)

type failingStore struct{ core.UserStore }

func (failingStore) FindUser(ctx context.Context, id string) (*core.User, error) {
	return nil, errors.New("disk on fire")
}

func serve(store core.UserStore, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/api/users/{userId}", HandleGet(store))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleGet(t *testing.T) {
	store := memory.NewStore()
	store.SaveUser(context.Background(), &core.User{ID: "u1", Email: "ada@example.com", FullName: "Ada"})

	rec := serve(store, "/api/users/u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}

	var got UserResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got != (UserResponse{ID: "u1", Email: "ada@example.com", FullName: "Ada"}) {
		t.Errorf("response = %+v", got)
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	if rec := serve(memory.NewStore(), "/api/users/ghost"); rec.Code != http.StatusNotFound {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleGet_StoreError(t *testing.T) {
	if rec := serve(failingStore{}, "/api/users/u1"); rec.Code != http.StatusInternalServerError {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
