package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"realtime-chat/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// memStore implements UserStore, ConversationStore and MessageStore in memory.
type memStore struct {
	mu            sync.RWMutex
	users         map[string]core.User
	conversations map[string]core.Conversation
	// messages is keyed by conversation id, in creation order.
	messages map[string][]core.Message
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		users:         make(map[string]core.User),
		conversations: make(map[string]core.Conversation),
		messages:      make(map[string][]core.Message),
	}
}

func (s *memStore) FindUser(ctx context.Context, id string) (*core.User, error) {
	s.mu.RLock()
	user, ok := s.users[id]
	s.mu.RUnlock()

	if !ok {
		logrus.WithField("user_id", id).Debug("User not found")
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	return &user, nil
}

func (s *memStore) SaveUser(ctx context.Context, user *core.User) error {
	if user.ID == "" {
		return fmt.Errorf("user id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	s.users[user.ID] = *user

	logrus.WithField("user_id", user.ID).Debug("User saved")
	return nil
}

func (s *memStore) CreateConversation(ctx context.Context, members []string) (*core.Conversation, error) {
	conversation := core.Conversation{
		ID:        ulid.Make().String(),
		Members:   append([]string(nil), members...),
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.conversations[conversation.ID] = conversation
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"conversation_id": conversation.ID,
		"members":         members,
	}).Info("Conversation created successfully")
	return &conversation, nil
}

func (s *memStore) FindConversation(ctx context.Context, id string) (*core.Conversation, error) {
	s.mu.RLock()
	c, ok := s.conversations[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, core.ErrNotFound)
	}
	c.Members = append([]string(nil), c.Members...)
	return &c, nil
}

func (s *memStore) ListConversations(ctx context.Context, userID string) ([]*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversations := make([]*core.Conversation, 0)
	for _, c := range s.conversations {
		if c.HasMembers(userID) {
			c := c
			conversations = append(conversations, &c)
		}
	}
	sortConversations(conversations)
	return conversations, nil
}

func (s *memStore) FindConversationBetween(ctx context.Context, members ...string) (*core.Conversation, error) {
	conversations := make([]*core.Conversation, 0)

	s.mu.RLock()
	for _, c := range s.conversations {
		if c.HasMembers(members...) {
			c := c
			conversations = append(conversations, &c)
		}
	}
	s.mu.RUnlock()

	if len(conversations) == 0 {
		return nil, fmt.Errorf("conversation between %v: %w", members, core.ErrNotFound)
	}
	sortConversations(conversations)
	return conversations[0], nil
}

func (s *memStore) CreateMessage(ctx context.Context, message *core.Message) error {
	if message.ConversationID == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}

	message.ID = ulid.Make().String()
	message.CreatedAt = time.Now()
	if message.FilePaths == nil {
		message.FilePaths = []string{}
	}

	s.mu.Lock()
	s.messages[message.ConversationID] = append(s.messages[message.ConversationID], *message)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"message_id":      message.ID,
		"conversation_id": message.ConversationID,
	}).Info("Message created successfully")
	return nil
}

func (s *memStore) ListMessages(ctx context.Context, conversationID string) ([]*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[conversationID]
	messages := make([]*core.Message, 0, len(stored))
	for i := range stored {
		m := stored[i]
		messages = append(messages, &m)
	}
	return messages, nil
}

// sortConversations orders by creation time, ties broken by id.
func sortConversations(conversations []*core.Conversation) {
	sort.Slice(conversations, func(i, j int) bool {
		if conversations[i].CreatedAt.Equal(conversations[j].CreatedAt) {
			return conversations[i].ID < conversations[j].ID
		}
		return conversations[i].CreatedAt.Before(conversations[j].CreatedAt)
	})
}
