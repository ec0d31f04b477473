package websocket

import (
	"context"
	"net/http"

	"realtime-chat/config"
	"realtime-chat/core"
	"realtime-chat/presence"
	"realtime-chat/relay"

	"github.com/go-chi/render"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// socketTransport addresses connections through the room socket.io creates
// for every socket id.
type socketTransport struct {
	srv *socketio.Server
}

func (t *socketTransport) Deliver(ctx context.Context, h presence.Handle, event string, payload any) error {
	return t.srv.To(socketio.Room(h)).Emit(event, payload)
}

func (t *socketTransport) PresenceChanged(entries []presence.Entry) {
	if err := t.srv.Sockets().Emit(EventUsers, entries); err != nil {
		logrus.WithError(err).Warn("Failed to broadcast presence")
	}
}

type Server struct {
	io    *socketio.Server
	relay *Relay
}

func SetupSocketIO(cfg *config.Config, users core.UserStore) *Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(cfg.MaxHTTPBufferSize)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      lo.ToAnySlice(cfg.Origins()),
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	transport := &socketTransport{srv: srv}
	registry := presence.NewRegistry(cfg.Policy(), transport)
	dispatcher := relay.NewDispatcher(registry, transport)

	s := &Server{
		io:    srv,
		relay: NewRelay(registry, dispatcher, users),
	}

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", s.onConnection)

	logrus.WithField("policy", registry.Policy()).Info("Socket.IO relay ready")
	return s
}

func (s *Server) onConnection(clients ...any) {
	socket, ok := clients[0].(*socketio.Socket)
	if !ok {
		return
	}

	session := NewSession(presence.Handle(socket.Id()))
	logrus.WithField("socket_id", session.Handle).Info("User connected")

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On(EventAddUser, func(datas ...any) {
		s.handleEvent(session, EventAddUser, datas)
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On(EventSendMessage, func(datas ...any) {
		s.handleEvent(session, EventSendMessage, datas)
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On(EventDisconnect, func(datas ...any) {
		s.handleEvent(session, EventDisconnect, nil)
		logrus.WithField("socket_id", session.Handle).Info("User disconnected")
		socket.RemoveAllListeners("")
	})
}

func (s *Server) handleEvent(session *Session, event string, datas []any) {
	ack, args := extractAck(datas)
	log := logrus.WithFields(logrus.Fields{"socket_id": session.Handle, "event": event})

	cmd, err := DecodeCommand(event, args)
	if err != nil {
		log.WithError(err).Warn("Rejected malformed event")
		respondWithAck(ack, ackPayload(event, Outcome{}, err), err)
		return
	}

	outcome, err := s.relay.Handle(context.Background(), session, cmd)
	if err != nil {
		log.WithError(err).Warn("Rejected event")
	}
	respondWithAck(ack, ackPayload(event, outcome, err), err)
}

func (s *Server) Registry() *presence.Registry { return s.relay.Registry() }

func (s *Server) ServeHandler() http.Handler { return s.io.ServeHandler(nil) }

func (s *Server) Close() { s.io.Close(nil) }

// HandlePresence serves the current registry snapshot.
func HandlePresence(registry *presence.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, registry.Snapshot())
	}
}
