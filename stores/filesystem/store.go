package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"realtime-chat/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// fsStore keeps one JSON document per record:
//
//	<base>/users/<id>.json
//	<base>/conversations/<id>.json
//	<base>/messages/<conversationID>/<id>.json
type fsStore struct {
	basePath string
	// mu serialises read-modify-write of user documents.
	mu sync.Mutex
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) (*fsStore, error) {
	for _, dir := range []string{"users", "conversations", "messages"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", dir, err)
		}
	}
	return &fsStore{basePath: basePath}, nil
}

// checkID rejects ids that would escape their directory.
func checkID(id string) error {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid id %q", id)
	}
	return nil
}

func (s *fsStore) userPath(id string) string {
	return filepath.Join(s.basePath, "users", id+".json")
}

func (s *fsStore) FindUser(ctx context.Context, id string) (*core.User, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var user core.User
	if err := readJSON(s.userPath(id), &user); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
		}
		logrus.WithError(err).WithField("user_id", id).Error("Failed to read user")
		return nil, err
	}
	return &user, nil
}

func (s *fsStore) SaveUser(ctx context.Context, user *core.User) error {
	if err := checkID(user.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var existing core.User
	switch err := readJSON(s.userPath(user.ID), &existing); {
	case err == nil:
		user.CreatedAt = existing.CreatedAt
	case os.IsNotExist(err):
		user.CreatedAt = now
	default:
		return err
	}
	user.UpdatedAt = now

	if err := writeJSON(s.userPath(user.ID), user); err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("Failed to write user")
		return err
	}
	return nil
}

func (s *fsStore) CreateConversation(ctx context.Context, members []string) (*core.Conversation, error) {
	conversation := &core.Conversation{
		ID:        ulid.Make().String(),
		Members:   append([]string(nil), members...),
		CreatedAt: time.Now().UTC(),
	}
	path := filepath.Join(s.basePath, "conversations", conversation.ID+".json")
	log := logrus.WithFields(logrus.Fields{"conversation_id": conversation.ID, "path": path})

	if err := writeJSON(path, conversation); err != nil {
		log.WithError(err).Error("Failed to write conversation")
		return nil, err
	}
	log.Info("Conversation created successfully")
	return conversation, nil
}

func (s *fsStore) FindConversation(ctx context.Context, id string) (*core.Conversation, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var conversation core.Conversation
	if err := readJSON(filepath.Join(s.basePath, "conversations", id+".json"), &conversation); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("conversation %s: %w", id, core.ErrNotFound)
		}
		logrus.WithError(err).WithField("conversation_id", id).Error("Failed to read conversation")
		return nil, err
	}
	return &conversation, nil
}

// conversations reads every conversation document in id (creation) order,
// keeping those accepted by keep.
func (s *fsStore) conversations(keep func(*core.Conversation) bool) ([]*core.Conversation, error) {
	dir := filepath.Join(s.basePath, "conversations")
	names, err := jsonFiles(dir)
	if err != nil {
		return nil, err
	}

	conversations := make([]*core.Conversation, 0)
	for _, name := range names {
		var c core.Conversation
		if err := readJSON(filepath.Join(dir, name), &c); err != nil {
			logrus.WithError(err).Warnf("Failed to read conversation %s, skipping", name)
			continue
		}
		if keep(&c) {
			conversations = append(conversations, &c)
		}
	}
	return conversations, nil
}

func (s *fsStore) ListConversations(ctx context.Context, userID string) ([]*core.Conversation, error) {
	return s.conversations(func(c *core.Conversation) bool { return c.HasMembers(userID) })
}

func (s *fsStore) FindConversationBetween(ctx context.Context, members ...string) (*core.Conversation, error) {
	conversations, err := s.conversations(func(c *core.Conversation) bool { return c.HasMembers(members...) })
	if err != nil {
		return nil, err
	}
	if len(conversations) == 0 {
		return nil, fmt.Errorf("conversation between %v: %w", members, core.ErrNotFound)
	}
	return conversations[0], nil
}

func (s *fsStore) CreateMessage(ctx context.Context, message *core.Message) error {
	if err := checkID(message.ConversationID); err != nil {
		return fmt.Errorf("conversation id: %w", err)
	}
	if message.FilePaths == nil {
		message.FilePaths = []string{}
	}
	message.ID = ulid.Make().String()
	message.CreatedAt = time.Now().UTC()

	dir := filepath.Join(s.basePath, "messages", message.ConversationID)
	log := logrus.WithFields(logrus.Fields{
		"message_id":      message.ID,
		"conversation_id": message.ConversationID,
	})
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.WithError(err).Error("Failed to create conversation directory")
		return err
	}
	if err := writeJSON(filepath.Join(dir, message.ID+".json"), message); err != nil {
		log.WithError(err).Error("Failed to write message")
		return err
	}
	log.Info("Message created successfully")
	return nil
}

func (s *fsStore) ListMessages(ctx context.Context, conversationID string) ([]*core.Message, error) {
	if err := checkID(conversationID); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.basePath, "messages", conversationID)
	names, err := jsonFiles(dir)
	if err != nil {
		return nil, err
	}

	messages := make([]*core.Message, 0, len(names))
	for _, name := range names {
		var m core.Message
		if err := readJSON(filepath.Join(dir, name), &m); err != nil {
			logrus.WithError(err).Warnf("Failed to read message %s, skipping", name)
			continue
		}
		messages = append(messages, &m)
	}
	return messages, nil
}

// jsonFiles lists *.json names in dir sorted by name. A missing directory is empty.
func jsonFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSON writes through a temp file so readers never see a partial document.
func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
