package messages

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"realtime-chat/core"
	"realtime-chat/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// NewConversation is the conversation id clients send before a
// conversation with the receiver exists.
const NewConversation = "new"

var validate = validator.New()

type Store interface {
	core.UserStore
	core.ConversationStore
	core.MessageStore
}

type CreateRequest struct {
	ConversationID string   `json:"conversationId"`
	SenderID       string   `json:"senderId" validate:"required"`
	Message        string   `json:"message" validate:"required"`
	ReceiverID     string   `json:"receiverId"`
	FilePaths      []string `json:"filePaths"`
}

type (
	Author struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		FullName string `json:"fullName"`
	}

	MessageResponse struct {
		User      Author    `json:"user"`
		Message   string    `json:"message"`
		FilePaths []string  `json:"filePaths"`
		CreatedAt time.Time `json:"createdAt"`
	}
)

func HandleCreate(store Store) http.HandlerFunc {
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
		startsConversation := req.ConversationID == "" || req.ConversationID == NewConversation
		if startsConversation && req.ReceiverID == "" {
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

		log := logrus.WithField("sender_id", req.SenderID)

		conversationID := req.ConversationID
		if !startsConversation && !authorizeMember(w, r, store, conversationID, claims.Subject) {
			return
		}
		if startsConversation {
			conversation, err := store.CreateConversation(r.Context(), []string{req.SenderID, req.ReceiverID})
			if err != nil {
				log.WithError(err).Error("Failed to create conversation")
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, map[string]string{"error": "Failed to create conversation"})
				return
			}
			conversationID = conversation.ID
		}

		message := &core.Message{
			ConversationID: conversationID,
			SenderID:       req.SenderID,
			Message:        req.Message,
			FilePaths:      req.FilePaths,
		}
		if err := store.CreateMessage(r.Context(), message); err != nil {
			log.WithError(err).WithField("conversation_id", conversationID).Error("Failed to create message")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to send message"})
			return
		}

		render.JSON(w, r, message)
	}
}

func HandleList(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := chi.URLParam(r, "conversationId")
		log := logrus.WithField("conversation_id", conversationID)

		claims, ok := middleware.ClaimsFrom(r.Context())
		if !ok {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": "Not a member of this conversation"})
			return
		}

		if conversationID == NewConversation {
			senderID := r.URL.Query().Get("senderId")
			receiverID := r.URL.Query().Get("receiverId")
			if senderID != "" && senderID != claims.Subject {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, map[string]string{"error": "Sender does not match the authenticated user"})
				return
			}
			if senderID == "" || receiverID == "" {
				render.JSON(w, r, []MessageResponse{})
				return
			}

			conversation, err := store.FindConversationBetween(r.Context(), senderID, receiverID)
			if err != nil {
				if errors.Is(err, core.ErrNotFound) {
					render.JSON(w, r, []MessageResponse{})
					return
				}
				log.WithError(err).Error("Failed to find conversation")
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, map[string]string{"error": "Failed to list messages"})
				return
			}
			conversationID = conversation.ID
		} else if !authorizeMember(w, r, store, conversationID, claims.Subject) {
			return
		}

		messages, err := store.ListMessages(r.Context(), conversationID)
		if err != nil {
			log.WithError(err).Error("Failed to list messages")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list messages"})
			return
		}

		authors := make(map[string]Author)
		response := make([]MessageResponse, 0, len(messages))
		for _, m := range messages {
			author, ok := authors[m.SenderID]
			if !ok {
				author = Author{ID: m.SenderID}
				user, err := store.FindUser(r.Context(), m.SenderID)
				switch {
				case err == nil:
					author.Email = user.Email
					author.FullName = user.FullName
				case !errors.Is(err, core.ErrNotFound):
					log.WithError(err).WithField("sender_id", m.SenderID).Warn("Failed to load message author")
				}
				authors[m.SenderID] = author
			}

			filePaths := m.FilePaths
			if filePaths == nil {
				filePaths = []string{}
			}
			response = append(response, MessageResponse{
				User:      author,
				Message:   m.Message,
				FilePaths: filePaths,
				CreatedAt: m.CreatedAt,
			})
		}

		render.JSON(w, r, response)
	}
}

// authorizeMember writes a 404 or 403 response and returns false unless
// userID belongs to the conversation.
func authorizeMember(w http.ResponseWriter, r *http.Request, store core.ConversationStore, conversationID, userID string) bool {
	conversation, err := store.FindConversation(r.Context(), conversationID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]string{"error": "Conversation not found"})
		return false
	case err != nil:
		logrus.WithError(err).WithField("conversation_id", conversationID).Error("Failed to find conversation")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "Failed to find conversation"})
		return false
	case !conversation.HasMembers(userID):
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, map[string]string{"error": "Not a member of this conversation"})
		return false
	}
	return true
}
