package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"realtime-chat/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// objectAPI is the subset of the S3 client the store uses.
type objectAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3Store uses the same key layout as the filesystem store:
// users/<id>.json, conversations/<id>.json, messages/<conversationID>/<id>.json.
type s3Store struct {
	client objectAPI
	bucket string
}

// NewStore creates a new S3-based store using the default AWS credential chain.
func NewStore(ctx context.Context, bucketName string) (*s3Store, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return newStore(s3.NewFromConfig(cfg), bucketName), nil
}

func newStore(client objectAPI, bucket string) *s3Store {
	return &s3Store{client: client, bucket: bucket}
}

// objectKey joins a key prefix and id, rejecting ids that are paths.
func objectKey(prefix, id string) (string, error) {
	if id == "" || id == "." || id == ".." {
		return "", fmt.Errorf("invalid id %q: must not be empty or a dot directory", id)
	}
	if path.Base(id) != id || strings.Contains(id, `\`) {
		return "", fmt.Errorf("invalid id %q: must not be a path", id)
	}
	return path.Join(prefix, id+".json"), nil
}

func (s *s3Store) get(ctx context.Context, key string, v any) error {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("object %s: %w", key, core.ErrNotFound)
		}
		return fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return json.Unmarshal(data, v)
}

func (s *s3Store) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}

// keys lists every key under prefix in lexical order.
func (s *s3Store) keys(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}
		for _, object := range page.Contents {
			if key := aws.ToString(object.Key); strings.HasSuffix(key, ".json") {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *s3Store) FindUser(ctx context.Context, id string) (*core.User, error) {
	key, err := objectKey("users", id)
	if err != nil {
		return nil, err
	}
	var user core.User
	if err := s.get(ctx, key, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *s3Store) SaveUser(ctx context.Context, user *core.User) error {
	key, err := objectKey("users", user.ID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var existing core.User
	switch err := s.get(ctx, key, &existing); {
	case err == nil:
		user.CreatedAt = existing.CreatedAt
	case errors.Is(err, core.ErrNotFound):
		user.CreatedAt = now
	default:
		return err
	}
	user.UpdatedAt = now

	return s.put(ctx, key, user)
}

func (s *s3Store) CreateConversation(ctx context.Context, members []string) (*core.Conversation, error) {
	conversation := &core.Conversation{
		ID:        ulid.Make().String(),
		Members:   append([]string(nil), members...),
		CreatedAt: time.Now().UTC(),
	}
	key, _ := objectKey("conversations", conversation.ID)
	if err := s.put(ctx, key, conversation); err != nil {
		return nil, err
	}
	logrus.WithField("conversation_id", conversation.ID).Info("Conversation created successfully")
	return conversation, nil
}

func (s *s3Store) FindConversation(ctx context.Context, id string) (*core.Conversation, error) {
	key, err := objectKey("conversations", id)
	if err != nil {
		return nil, err
	}
	var conversation core.Conversation
	if err := s.get(ctx, key, &conversation); err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (s *s3Store) conversations(ctx context.Context, keep func(*core.Conversation) bool) ([]*core.Conversation, error) {
	keys, err := s.keys(ctx, "conversations/")
	if err != nil {
		return nil, err
	}

	conversations := make([]*core.Conversation, 0)
	for _, key := range keys {
		var c core.Conversation
		if err := s.get(ctx, key, &c); err != nil {
			logrus.WithError(err).Warnf("Failed to get conversation %s, skipping", key)
			continue
		}
		if keep(&c) {
			conversations = append(conversations, &c)
		}
	}
	return conversations, nil
}

func (s *s3Store) ListConversations(ctx context.Context, userID string) ([]*core.Conversation, error) {
	return s.conversations(ctx, func(c *core.Conversation) bool { return c.HasMembers(userID) })
}

func (s *s3Store) FindConversationBetween(ctx context.Context, members ...string) (*core.Conversation, error) {
	conversations, err := s.conversations(ctx, func(c *core.Conversation) bool { return c.HasMembers(members...) })
	if err != nil {
		return nil, err
	}
	if len(conversations) == 0 {
		return nil, fmt.Errorf("conversation between %v: %w", members, core.ErrNotFound)
	}
	return conversations[0], nil
}

func (s *s3Store) CreateMessage(ctx context.Context, message *core.Message) error {
	if _, err := objectKey("messages", message.ConversationID); err != nil {
		return fmt.Errorf("conversation id: %w", err)
	}
	if message.FilePaths == nil {
		message.FilePaths = []string{}
	}
	message.ID = ulid.Make().String()
	message.CreatedAt = time.Now().UTC()

	key, _ := objectKey(path.Join("messages", message.ConversationID), message.ID)
	if err := s.put(ctx, key, message); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"message_id":      message.ID,
		"conversation_id": message.ConversationID,
	}).Info("Message created successfully")
	return nil
}

func (s *s3Store) ListMessages(ctx context.Context, conversationID string) ([]*core.Message, error) {
	if _, err := objectKey("messages", conversationID); err != nil {
		return nil, err
	}
	keys, err := s.keys(ctx, path.Join("messages", conversationID)+"/")
	if err != nil {
		return nil, err
	}

	messages := make([]*core.Message, 0, len(keys))
	for _, key := range keys {
		var m core.Message
		if err := s.get(ctx, key, &m); err != nil {
			logrus.WithError(err).Warnf("Failed to get message %s, skipping", key)
			continue
		}
		messages = append(messages, &m)
	}
	return messages, nil
}
