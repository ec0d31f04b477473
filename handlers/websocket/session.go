package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"realtime-chat/core"
	"realtime-chat/presence"
	"realtime-chat/relay"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

// Inbound and outbound socket event names.
const (
	EventAddUser     = "addUser"
	EventSendMessage = "sendMessage"
	EventDisconnect  = "disconnect"
	EventUsers       = "getUsers"
)

var (
	ErrSessionClosed = errors.New("session is disconnected")
	ErrUnknownEvent  = errors.New("unknown event")

	validate = validator.New()
)

type State int

const (
	Unannounced State = iota
	Announced
	Disconnected
)

func (s State) String() string {
	switch s {
	case Unannounced:
		return "unannounced"
	case Announced:
		return "announced"
	case Disconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type (
	// Command is an inbound event decoded from its socket arguments.
	Command interface {
		event() string
	}

	AnnounceCommand struct {
		UserID string `mapstructure:"userId" validate:"required"`
	}

	SendMessageCommand struct {
		SenderID       string   `mapstructure:"senderId" validate:"required"`
		ReceiverID     string   `mapstructure:"receiverId"`
		Message        string   `mapstructure:"message"`
		ConversationID string   `mapstructure:"conversationId"`
		FilePaths      []string `mapstructure:"filePaths"`
	}

	DisconnectCommand struct{}
)

func (AnnounceCommand) event() string    { return EventAddUser }
func (SendMessageCommand) event() string { return EventSendMessage }
func (DisconnectCommand) event() string  { return EventDisconnect }

// transitions maps a session state and inbound event to the next state.
// A missing entry rejects the command. sendMessage routes by senderId, so
// it does not require the connection to have announced first.
var transitions = map[State]map[string]State{
	Unannounced: {
		EventAddUser:     Announced,
		EventSendMessage: Unannounced,
		EventDisconnect:  Disconnected,
	},
	Announced: {
		EventAddUser:     Announced,
		EventSendMessage: Announced,
		EventDisconnect:  Disconnected,
	},
}

// DecodeCommand turns raw socket arguments, with any ack already stripped,
// into a validated command.
func DecodeCommand(event string, args []any) (Command, error) {
	switch event {
	case EventAddUser:
		if len(args) == 0 {
			return nil, fmt.Errorf("user id is required")
		}
		var cmd AnnounceCommand
		switch v := args[0].(type) {
		case string:
			cmd.UserID = v
		case map[string]any:
			if err := mapstructure.Decode(v, &cmd); err != nil {
				return nil, fmt.Errorf("decode %s: %w", event, err)
			}
		default:
			return nil, fmt.Errorf("invalid user id of type %T", args[0])
		}
		if err := validate.Struct(cmd); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", event, err)
		}
		return cmd, nil

	case EventSendMessage:
		if len(args) == 0 {
			return nil, fmt.Errorf("message payload is required")
		}
		raw, ok := args[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid message payload of type %T", args[0])
		}
		var cmd SendMessageCommand
		if err := mapstructure.Decode(raw, &cmd); err != nil {
			return nil, fmt.Errorf("decode %s: %w", event, err)
		}
		if err := validate.Struct(cmd); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", event, err)
		}
		if cmd.FilePaths == nil {
			cmd.FilePaths = []string{}
		}
		return cmd, nil

	case EventDisconnect:
		return DisconnectCommand{}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownEvent, event)
}

// Session is the per-connection state.
type Session struct {
	Handle presence.Handle

	mu    sync.Mutex
	state State
}

func NewSession(h presence.Handle) *Session {
	return &Session{Handle: h}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome is what a handled command reports back through the ack.
type Outcome struct {
	Added          bool
	Delivered      int
	ReceiverOnline bool
}

// Relay applies commands to the presence registry and dispatcher.
type Relay struct {
	registry   *presence.Registry
	dispatcher *relay.Dispatcher
	users      core.UserStore
}

func NewRelay(registry *presence.Registry, dispatcher *relay.Dispatcher, users core.UserStore) *Relay {
	return &Relay{registry: registry, dispatcher: dispatcher, users: users}
}

func (r *Relay) Registry() *presence.Registry { return r.registry }

// Handle runs cmd for session. Commands on one session are serialised.
func (r *Relay) Handle(ctx context.Context, session *Session, cmd Command) (Outcome, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	next, ok := transitions[session.state][cmd.event()]
	if !ok {
		return Outcome{}, fmt.Errorf("%s in state %s: %w", cmd.event(), session.state, ErrSessionClosed)
	}

	var outcome Outcome
	switch c := cmd.(type) {
	case AnnounceCommand:
		outcome.Added = r.registry.Add(presence.Identity(c.UserID), session.Handle)
	case SendMessageCommand:
		result := r.dispatcher.Dispatch(ctx, r.messageEvent(ctx, c))
		outcome.Delivered = len(result.Delivered())
		outcome.ReceiverOnline = result.ReceiverOnline
	case DisconnectCommand:
		r.registry.Remove(session.Handle)
	}

	logrus.WithFields(logrus.Fields{
		"socket_id": session.Handle,
		"event":     cmd.event(),
		"from":      session.state,
		"to":        next,
	}).Debug("Session transition")
	session.state = next
	return outcome, nil
}

// messageEvent builds the outbound payload, attaching the sender's profile
// when the store knows it.
func (r *Relay) messageEvent(ctx context.Context, c SendMessageCommand) relay.MessageEvent {
	ev := relay.MessageEvent{
		SenderID:       c.SenderID,
		ReceiverID:     c.ReceiverID,
		Message:        c.Message,
		ConversationID: c.ConversationID,
		FilePaths:      c.FilePaths,
	}
	if r.users == nil {
		return ev
	}

	user, err := r.users.FindUser(ctx, c.SenderID)
	switch {
	case err == nil:
		ev.User = &relay.Sender{ID: user.ID, FullName: user.FullName, Email: user.Email}
	case errors.Is(err, core.ErrNotFound):
		logrus.WithField("sender_id", c.SenderID).Debug("Sender has no profile")
	default:
		logrus.WithError(err).WithField("sender_id", c.SenderID).Warn("Failed to load sender profile")
	}
	return ev
}
