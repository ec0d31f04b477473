package conversations

import (
	"encoding/json"
	"errors"
	"net/http"

	"realtime-chat/core"
	"realtime-chat/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

var validate = validator.New()

type Store interface {
	core.UserStore
	core.ConversationStore
}

type CreateRequest struct {
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required"`
}

type CreateResponse struct {
	ConversationID string `json:"conversationId"`
}

type (
	Peer struct {
		ReceiverID string `json:"receiverId"`
		Email      string `json:"email"`
		FullName   string `json:"fullName"`
	}

	ConversationResponse struct {
		User           Peer   `json:"user"`
		ConversationID string `json:"conversationId"`
	}
)

func HandleCreate(store core.ConversationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		if err := validate.Struct(req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Please fill all required fields"})
			return
		}

		claims, ok := middleware.ClaimsFrom(r.Context())
		if !ok || claims.Subject != req.SenderID {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": "Sender does not match the authenticated user"})
			return
		}

		conversation, err := store.CreateConversation(r.Context(), []string{req.SenderID, req.ReceiverID})
		if err != nil {
			logrus.WithError(err).WithField("sender_id", req.SenderID).Error("Failed to create conversation")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to create conversation"})
			return
		}

		render.JSON(w, r, CreateResponse{ConversationID: conversation.ID})
	}
}

func HandleList(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")

		claims, ok := middleware.ClaimsFrom(r.Context())
		if !ok || claims.Subject != userID {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": "Cannot list another user's conversations"})
			return
		}

		conversations, err := store.ListConversations(r.Context(), userID)
		if err != nil {
			logrus.WithError(err).WithField("user_id", userID).Error("Failed to list conversations")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list conversations"})
			return
		}

		response := make([]ConversationResponse, 0, len(conversations))
		for _, c := range conversations {
			peer := Peer{ReceiverID: c.Other(userID)}
			if peer.ReceiverID == "" {
				peer.ReceiverID = userID
			}

			user, err := store.FindUser(r.Context(), peer.ReceiverID)
			switch {
			case err == nil:
				peer.Email = user.Email
				peer.FullName = user.FullName
			case !errors.Is(err, core.ErrNotFound):
				logrus.WithError(err).WithField("user_id", peer.ReceiverID).Warn("Failed to load conversation peer")
			}

			response = append(response, ConversationResponse{User: peer, ConversationID: c.ID})
		}

		render.JSON(w, r, response)
	}
}
