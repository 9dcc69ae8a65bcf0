package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

func (e *Engine) onSendMessage(ctx context.Context, s *session, data json.RawMessage) error {
	p, err := decode[SendMessagePayload](e, data)
	if err != nil {
		return err
	}
	if err := s.speaksFor(p.Sender); err != nil {
		return err
	}
	_, err = e.sendMessage(ctx, p)
	return err
}

// sendMessage persists the message, then fans it out:
//
//   - receiveMessage to every live recipient (group members minus the
//     sender, or the direct receiver);
//   - messageSentAck to the sender if live;
//   - delivered to the sender for a direct message whose receiver is live.
//
// If persisting fails nothing is emitted.
func (e *Engine) sendMessage(ctx context.Context, p SendMessagePayload) (*domain.Message, error) {
	m := &domain.Message{
		SenderID: p.Sender,
		IsGroup:  p.IsGroup,
		Content:  p.Content,
		TempID:   p.TempID,
	}
	if p.IsGroup {
		gid := p.GroupID
		m.GroupID = &gid
	} else {
		rid := p.Receiver
		m.ReceiverID = &rid
	}
	if err := e.Store.CreateMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("%w: create message: %v", ErrPersist, err)
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("message.id", m.ID),
		attribute.Bool("message.group", m.IsGroup),
	)

	receiverOnline := false
	if p.IsGroup {
		members, err := e.Store.GroupMembers(ctx, p.GroupID)
		if err != nil {
			// Persisted but unroutable: the sender still gets its ack.
			e.Log.Warn().Err(err).Str("group_id", p.GroupID).Str("message_id", m.ID).Msg("group resolution failed")
		}
		for _, member := range members {
			if member == p.Sender {
				continue
			}
			e.emitTo(member, EventReceiveMessage, m)
		}
	} else {
		receiverOnline = e.emitTo(p.Receiver, EventReceiveMessage, m)
	}

	if senderConn, ok := e.Presence.Lookup(p.Sender); ok {
		e.emit(senderConn, EventMessageSentAck, m)
		if receiverOnline {
			e.emit(senderConn, EventDelivered, MessageRef{MessageID: m.ID, TempID: m.TempID})
		}
	}
	return m, nil
}

// onDelivered flips the delivered flag for a recipient of the message and
// tells the original sender.
func (e *Engine) onDelivered(ctx context.Context, s *session, data json.RawMessage) error {
	p, err := decode[DeliveredPayload](e, data)
	if err != nil {
		return err
	}
	if p.Receiver != "" {
		if err := s.speaksFor(p.Receiver); err != nil {
			return err
		}
	}
	m, err := e.Store.MarkDelivered(ctx, p.MessageID, s.userID)
	if err != nil {
		return receiptError(err, p.MessageID)
	}
	e.emitTo(m.SenderID, EventDelivered, MessageRef{MessageID: m.ID})
	return nil
}

// onMessageRead flips read (and with it delivered) for a recipient and tells
// the original sender. A read with no prior delivered is accepted.
func (e *Engine) onMessageRead(ctx context.Context, s *session, data json.RawMessage) error {
	p, err := decode[MessageReadPayload](e, data)
	if err != nil {
		return err
	}
	m, err := e.Store.MarkRead(ctx, p.MessageID, s.userID)
	if err != nil {
		return receiptError(err, p.MessageID)
	}
	if p.Sender != "" && p.Sender != m.SenderID {
		e.Log.Debug().Str("message_id", m.ID).Str("claimed_sender", p.Sender).Msg("read receipt names a different sender; notifying stored sender")
	}
	e.emitTo(m.SenderID, EventRead, MessageRef{MessageID: m.ID})
	return nil
}

func receiptError(err error, messageID string) error {
	switch {
	case errors.Is(err, ErrMessageNotFound):
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	case errors.Is(err, ErrIdentityMismatch):
		return fmt.Errorf("receipt for %s: %w", messageID, err)
	}
	return fmt.Errorf("%w: update message %s: %v", ErrPersist, messageID, err)
}

// typingHandler builds the handler for typing and stopTyping, which differ
// only in the outbound event name. Indicators are best effort: an unknown
// group drops the event with a warning.
func (e *Engine) typingHandler(event string) func(context.Context, *session, json.RawMessage) error {
	return func(ctx context.Context, s *session, data json.RawMessage) error {
		p, err := decode[TypingPayload](e, data)
		if err != nil {
			return err
		}
		if err := s.speaksFor(p.From); err != nil {
			return err
		}

		if p.GroupID == "" {
			e.emitTo(p.To, event, TypingNotice{From: p.From})
			return nil
		}

		members, err := e.Store.GroupMembers(ctx, p.GroupID)
		if err != nil {
			e.Log.Warn().Err(err).Str("event", event).Str("group_id", p.GroupID).Msg("typing indicator dropped")
			return nil
		}
		notice := TypingNotice{From: p.From, GroupID: p.GroupID}
		for _, member := range members {
			if member == p.From {
				continue
			}
			e.emitTo(member, event, notice)
		}
		return nil
	}
}

// onResetUnreadCount forwards a UI hint; no counter is kept server-side.
func (e *Engine) onResetUnreadCount(_ context.Context, s *session, data json.RawMessage) error {
	p, err := decode[ResetUnreadPayload](e, data)
	if err != nil {
		return err
	}
	if err := s.speaksFor(p.From); err != nil {
		return err
	}
	e.emitTo(p.To, EventResetUnreadCount, ResetUnreadNotice{From: p.From})
	return nil
}
