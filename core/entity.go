package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is wrapped by every store when a record does not exist.
var ErrNotFound = errors.New("not found")

type (
	// User is the profile of an account as known to the durable store.
	// Profiles are synced from verified token claims; credentials never live here.
	User struct {
		ID        string    `json:"id"`
		Email     string    `json:"email"`
		FullName  string    `json:"fullName"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// Conversation groups the members that exchange messages.
	Conversation struct {
		ID        string    `json:"id"`
		Members   []string  `json:"members"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// Message is a persisted chat message. Live delivery happens elsewhere and
	// is not linked to this record.
	Message struct {
		ID             string    `json:"id"`
		ConversationID string    `json:"conversationId"`
		SenderID       string    `json:"senderId"`
		Message        string    `json:"message"`
		FilePaths      []string  `json:"filePaths"`
		CreatedAt      time.Time `json:"createdAt"`
	}

	UserStore interface {
		FindUser(ctx context.Context, id string) (*User, error)
		// SaveUser creates or updates a profile, keeping the original CreatedAt.
		SaveUser(ctx context.Context, user *User) error
	}

	ConversationStore interface {
		CreateConversation(ctx context.Context, members []string) (*Conversation, error)
		FindConversation(ctx context.Context, id string) (*Conversation, error)
		// ListConversations returns every conversation the user is a member of.
		ListConversations(ctx context.Context, userID string) ([]*Conversation, error)
		// FindConversationBetween returns the oldest conversation containing all
		// of the given members.
		FindConversationBetween(ctx context.Context, members ...string) (*Conversation, error)
	}

	MessageStore interface {
		// CreateMessage assigns ID and CreatedAt and persists the message.
		CreateMessage(ctx context.Context, message *Message) error
		// ListMessages returns a conversation's messages in creation order.
		ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	}
)

// Other returns the first member that is not userID, or "" for a
// conversation with oneself.
func (c *Conversation) Other(userID string) string {
	for _, member := range c.Members {
		if member != userID {
			return member
		}
	}
	return ""
}

// HasMembers reports whether every id is a member of the conversation.
func (c *Conversation) HasMembers(ids ...string) bool {
	for _, id := range ids {
		found := false
		for _, member := range c.Members {
			if member == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
