package users

import (
	"errors"
	"net/http"

	"realtime-chat/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type UserResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

func HandleGet(store core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")

		user, err := store.FindUser(r.Context(), userID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, map[string]string{"error": "User not found"})
				return
			}
			logrus.WithError(err).WithField("user_id", userID).Error("Failed to get user")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to get user"})
			return
		}

		render.JSON(w, r, UserResponse{ID: user.ID, Email: user.Email, FullName: user.FullName})
	}
}
