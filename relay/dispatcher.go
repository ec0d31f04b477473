// Package relay forwards message events between live connections.
//
// Delivery is fire-and-forget: a failed send is logged and counted but never
// retried, and nothing here touches the durable store. A message can be
// delivered live without being persisted, or persisted without being
// delivered; clients reconcile through the history API.
package relay

import (
	"context"

	"realtime-chat/presence"
	"realtime-chat/telemetry"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// EventMessage is the outbound event name carrying a relayed message.
const EventMessage = "getMessage"

type (
	// Sender is the profile attached to a relayed message by the caller.
	Sender struct {
		ID       string `json:"id"`
		FullName string `json:"fullName"`
		Email    string `json:"email"`
	}

	MessageEvent struct {
		SenderID       string   `json:"senderId"`
		ReceiverID     string   `json:"receiverId"`
		Message        string   `json:"message"`
		ConversationID string   `json:"conversationId"`
		FilePaths      []string `json:"filePaths"`
		User           *Sender  `json:"user,omitempty"`
	}

	Resolver interface {
		Lookup(id presence.Identity) (presence.Handle, bool)
	}

	// Deliverer sends one event to one connection.
	Deliverer interface {
		Deliver(ctx context.Context, h presence.Handle, event string, payload any) error
	}

	Result struct {
		// Targets are the handles a delivery was attempted on, receiver first.
		Targets        []presence.Handle
		Failed         []presence.Handle
		ReceiverOnline bool
	}
)

// Delivered returns the targets that did not fail.
func (r Result) Delivered() []presence.Handle {
	return lo.Without(r.Targets, r.Failed...)
}

type Dispatcher struct {
	resolver  Resolver
	deliverer Deliverer
}

func NewDispatcher(resolver Resolver, deliverer Deliverer) *Dispatcher {
	return &Dispatcher{resolver: resolver, deliverer: deliverer}
}

// Dispatch delivers ev to the receiver's connection, when present, and echoes
// it to the sender's connection. Absent handles are skipped silently and a
// handle shared by both sides receives the event once.
func (d *Dispatcher) Dispatch(ctx context.Context, ev MessageEvent) Result {
	var result Result

	receiver, receiverOnline := d.resolver.Lookup(presence.Identity(ev.ReceiverID))
	sender, senderOnline := d.resolver.Lookup(presence.Identity(ev.SenderID))

	if receiverOnline {
		result.Targets = append(result.Targets, receiver)
	}
	if senderOnline {
		result.Targets = append(result.Targets, sender)
	}
	result.Targets = lo.Uniq(result.Targets)
	result.ReceiverOnline = receiverOnline
	telemetry.RecordDispatch(receiverOnline)

	log := logrus.WithFields(logrus.Fields{
		"sender_id":       ev.SenderID,
		"receiver_id":     ev.ReceiverID,
		"conversation_id": ev.ConversationID,
	})

	for _, h := range result.Targets {
		err := d.deliverer.Deliver(ctx, h, EventMessage, ev)
		telemetry.RecordDelivery(err)
		if err != nil {
			log.WithError(err).WithField("socket_id", h).Warn("Failed to deliver message")
			result.Failed = append(result.Failed, h)
		}
	}

	log.WithFields(logrus.Fields{
		"targets":         len(result.Targets),
		"receiver_online": receiverOnline,
	}).Debug("Message relayed")

	return result
}
