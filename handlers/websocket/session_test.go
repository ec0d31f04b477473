package websocket

import (
	"context"
	"errors"
	"sync"
	"testing"

	"realtime-chat/core"
	"realtime-chat/presence"
	"realtime-chat/relay"
	"realtime-chat/stores/memory"
)

type sent struct {
	handle  presence.Handle
	event   string
	payload any
}

type fakeTransport struct {
	mu         sync.Mutex
	sent       []sent
	broadcasts [][]presence.Entry
}

func (f *fakeTransport) Deliver(ctx context.Context, h presence.Handle, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{handle: h, event: event, payload: payload})
	return nil
}

func (f *fakeTransport) PresenceChanged(entries []presence.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, entries)
}

func newTestRelay(t *testing.T, users core.UserStore) (*Relay, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	registry := presence.NewRegistry(presence.KeepFirst, transport)
	return NewRelay(registry, relay.NewDispatcher(registry, transport), users), transport
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		args    []any
		want    Command
		wantErr bool
	}{
		{name: "announce", event: EventAddUser, args: []any{"u1"}, want: AnnounceCommand{UserID: "u1"}},
		{name: "announce object", event: EventAddUser, args: []any{map[string]any{"userId": "u1"}}, want: AnnounceCommand{UserID: "u1"}},
		{name: "announce empty", event: EventAddUser, args: []any{""}, wantErr: true},
		{name: "announce missing", event: EventAddUser, wantErr: true},
		{name: "announce number", event: EventAddUser, args: []any{42.0}, wantErr: true},
		{name: "send missing sender", event: EventSendMessage, args: []any{map[string]any{"receiverId": "u2"}}, wantErr: true},
		{name: "send not an object", event: EventSendMessage, args: []any{"hello"}, wantErr: true},
		{name: "send missing", event: EventSendMessage, wantErr: true},
		{name: "disconnect", event: EventDisconnect, want: DisconnectCommand{}},
		{name: "unknown", event: "typing", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCommand(tt.event, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("DecodeCommand() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeSendMessage(t *testing.T) {
	cmd, err := DecodeCommand(EventSendMessage, []any{map[string]any{
		"senderId":       "u1",
		"receiverId":     "u2",
		"message":        "hello",
		"conversationId": "c1",
		"filePaths":      []any{"uploads/a.png", "uploads/b.pdf"},
	}})
	if err != nil {
		t.Fatalf("DecodeCommand() failed: %v", err)
	}

	send := cmd.(SendMessageCommand)
	if send.SenderID != "u1" || send.ReceiverID != "u2" || send.Message != "hello" || send.ConversationID != "c1" {
		t.Errorf("decoded = %+v", send)
	}
	if len(send.FilePaths) != 2 || send.FilePaths[1] != "uploads/b.pdf" {
		t.Errorf("FilePaths = %v", send.FilePaths)
	}

	bare, err := DecodeCommand(EventSendMessage, []any{map[string]any{"senderId": "u1"}})
	if err != nil {
		t.Fatalf("DecodeCommand() failed: %v", err)
	}
	if paths := bare.(SendMessageCommand).FilePaths; paths == nil || len(paths) != 0 {
		t.Errorf("FilePaths = %v, want empty slice", paths)
	}
}

func TestHandleAnnounce(t *testing.T) {
	r, transport := newTestRelay(t, nil)
	session := NewSession("h1")

	outcome, err := r.Handle(context.Background(), session, AnnounceCommand{UserID: "u1"})
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if !outcome.Added {
		t.Error("Added = false, want true")
	}
	if session.State() != Announced {
		t.Errorf("state = %s, want announced", session.State())
	}
	if h, ok := r.Registry().Lookup("u1"); !ok || h != "h1" {
		t.Errorf("Lookup(u1) = %q, %v", h, ok)
	}
	if len(transport.broadcasts) != 1 {
		t.Errorf("broadcasts = %d, want 1", len(transport.broadcasts))
	}

	// Duplicate from another connection is ignored under KeepFirst.
	other := NewSession("h2")
	outcome, _ = r.Handle(context.Background(), other, AnnounceCommand{UserID: "u1"})
	if outcome.Added {
		t.Error("duplicate announce reported Added")
	}
	if len(transport.broadcasts) != 1 {
		t.Errorf("duplicate announce broadcast presence")
	}
}

func TestHandleSendMessage(t *testing.T) {
	store := memory.NewStore()
	store.SaveUser(context.Background(), &core.User{ID: "u1", FullName: "Ada", Email: "ada@example.com"})
	r, transport := newTestRelay(t, store)

	sender := NewSession("h1")
	receiver := NewSession("h2")
	r.Handle(context.Background(), sender, AnnounceCommand{UserID: "u1"})
	r.Handle(context.Background(), receiver, AnnounceCommand{UserID: "u2"})

	outcome, err := r.Handle(context.Background(), sender, SendMessageCommand{
		SenderID:   "u1",
		ReceiverID: "u2",
		Message:    "hi",
		FilePaths:  []string{},
	})
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if outcome.Delivered != 2 || !outcome.ReceiverOnline {
		t.Errorf("outcome = %+v, want 2 deliveries to online receiver", outcome)
	}

	if len(transport.sent) != 2 {
		t.Fatalf("sent %d events, want 2", len(transport.sent))
	}
	ev, ok := transport.sent[0].payload.(relay.MessageEvent)
	if !ok {
		t.Fatalf("payload type %T", transport.sent[0].payload)
	}
	if ev.User == nil || ev.User.FullName != "Ada" || ev.User.ID != "u1" {
		t.Errorf("sender profile = %+v", ev.User)
	}
	if transport.sent[0].event != relay.EventMessage {
		t.Errorf("event = %q", transport.sent[0].event)
	}
}

func TestHandleSendMessage_UnknownSenderProfile(t *testing.T) {
	r, transport := newTestRelay(t, memory.NewStore())
	session := NewSession("h1")
	r.Handle(context.Background(), session, AnnounceCommand{UserID: "u1"})

	outcome, err := r.Handle(context.Background(), session, SendMessageCommand{SenderID: "u1", ReceiverID: "u2"})
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if outcome.ReceiverOnline || outcome.Delivered != 1 {
		t.Errorf("outcome = %+v, want echo to sender only", outcome)
	}
	if ev := transport.sent[0].payload.(relay.MessageEvent); ev.User != nil {
		t.Errorf("User = %+v, want nil", ev.User)
	}
}

func TestHandleSendMessage_BeforeAnnounce(t *testing.T) {
	r, transport := newTestRelay(t, nil)
	r.Handle(context.Background(), NewSession("h2"), AnnounceCommand{UserID: "u2"})

	session := NewSession("h1")
	outcome, err := r.Handle(context.Background(), session, SendMessageCommand{SenderID: "u1", ReceiverID: "u2"})
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if session.State() != Unannounced {
		t.Errorf("state = %s, want unannounced", session.State())
	}
	if outcome.Delivered != 1 || transport.sent[0].handle != "h2" {
		t.Errorf("outcome = %+v, sent = %+v", outcome, transport.sent)
	}
}

func TestHandleDisconnect(t *testing.T) {
	r, transport := newTestRelay(t, nil)
	session := NewSession("h1")
	r.Handle(context.Background(), session, AnnounceCommand{UserID: "u1"})
	r.Handle(context.Background(), session, AnnounceCommand{UserID: "u1-alt"})

	if _, err := r.Handle(context.Background(), session, DisconnectCommand{}); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if session.State() != Disconnected {
		t.Errorf("state = %s, want disconnected", session.State())
	}
	if r.Registry().Len() != 0 {
		t.Errorf("registry still has %d entries", r.Registry().Len())
	}
	if last := transport.broadcasts[len(transport.broadcasts)-1]; len(last) != 0 {
		t.Errorf("last broadcast = %v, want empty", last)
	}

	for _, cmd := range []Command{AnnounceCommand{UserID: "u1"}, SendMessageCommand{SenderID: "u1"}, DisconnectCommand{}} {
		if _, err := r.Handle(context.Background(), session, cmd); !errors.Is(err, ErrSessionClosed) {
			t.Errorf("%s after disconnect error = %v, want ErrSessionClosed", cmd.event(), err)
		}
	}
}

func TestHandleDisconnect_Unannounced(t *testing.T) {
	r, transport := newTestRelay(t, nil)

	if _, err := r.Handle(context.Background(), NewSession("h1"), DisconnectCommand{}); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if len(transport.broadcasts) != 0 {
		t.Errorf("disconnect of unknown connection broadcast %d times", len(transport.broadcasts))
	}
}

func TestHandleEvent_Ack(t *testing.T) {
	r, _ := newTestRelay(t, nil)
	s := &Server{relay: r}
	session := NewSession("h1")

	var got map[string]any
	s.handleEvent(session, EventAddUser, []any{"u1", func(payload map[string]any) { got = payload }})
	if got["status"] != "ok" || got["added"] != true {
		t.Errorf("addUser ack = %v", got)
	}

	s.handleEvent(session, EventSendMessage, []any{
		map[string]any{"senderId": "u1", "receiverId": "u2", "message": "hi"},
		func(payload map[string]any) { got = payload },
	})
	if got["status"] != "ok" || got["delivered"] != 1 || got["receiverOnline"] != false {
		t.Errorf("sendMessage ack = %v", got)
	}

	var gotErr error
	s.handleEvent(session, EventSendMessage, []any{
		"not an object",
		func(err error, payload map[string]any) { gotErr, got = err, payload },
	})
	if gotErr == nil || got["status"] != "error" {
		t.Errorf("malformed ack = %v, %v", gotErr, got)
	}

	// Events without a callback are handled all the same.
	s.handleEvent(session, EventDisconnect, nil)
	if session.State() != Disconnected {
		t.Errorf("state = %s, want disconnected", session.State())
	}
}
