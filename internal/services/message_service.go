// Package services – MessageService
//
// This file implements MessageService, the REST-side view of messages:
// paged conversation and group history with cheap ETag fingerprints, unread
// counts per sender, bulk mark-as-read, and sending. Sends do not touch the
// database directly; they are handed to the relay loop so a REST send is
// persisted and fanned out exactly like a socket send.
//
// Idempotency: a send carrying an Idempotency-Key is recorded against
// (user, scope, key). A retry within the TTL returns the original message
// and is not relayed again.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include user/group identifiers and pagination parameters where applicable.

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/relay"
	"github.com/tbourn/go-dm-backend/internal/repo"
	"github.com/tbourn/go-dm-backend/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Relay is the part of the relay engine used for REST sends.
type Relay interface {
	Send(ctx context.Context, p relay.SendMessagePayload) (*domain.Message, error)
}

// SendInput is a message submitted over REST.
type SendInput struct {
	Sender   string
	Receiver string
	GroupID  string
	IsGroup  bool
	Content  string
	TempID   string

	// IdempotencyKey and Scope identify a retryable send; both optional.
	IdempotencyKey string
	Scope          string
}

func (in SendInput) sendKey() repo.SendKey {
	return repo.SendKey{UserID: in.Sender, Scope: in.Scope, Key: in.IdempotencyKey}
}

// MessageService coordinates message history, receipts and REST sends.
type MessageService struct {
	DB    *gorm.DB
	Relay Relay

	// MaxContentRunes caps message length. Values <= 0 disable the check.
	MaxContentRunes int
	// IdempotencyTTL is how long a send key is honoured. Values <= 0 mean 24h.
	IdempotencyTTL time.Duration
}

// NewMessageService constructs a MessageService with default limits.
func NewMessageService(db *gorm.DB, r Relay, idemTTL time.Duration) *MessageService {
	return &MessageService{DB: db, Relay: r, MaxContentRunes: 8192, IdempotencyTTL: idemTTL}
}

func pageBounds(page, pageSize int) (int, int, int) {
	w := utils.NewWindow(page, pageSize)
	return w.Page, w.Size, w.Offset()
}

// History returns one page of the direct conversation between a and b,
// oldest first, and the total message count.
func (s *MessageService) History(ctx context.Context, a, b string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("user.a", a),
			attribute.String("user.b", b),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize, offset := pageBounds(page, pageSize)
	total, err := repo.CountConversation(ctx, s.DB, a, b)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListConversationPage(ctx, s.DB, a, b, offset, pageSize)
	return items, total, err
}

// HistoryETag fingerprints the conversation between a and b. It changes
// whenever a message is added or its flags move.
func (s *MessageService) HistoryETag(ctx context.Context, a, b string) (string, error) {
	count, maxTS, err := repo.ConversationStats(ctx, s.DB, a, b)
	if err != nil {
		return "", err
	}
	return weakETag("conversation:"+a+":"+b, count, maxTS), nil
}

// GroupHistory returns one page of a group's messages, oldest first.
func (s *MessageService) GroupHistory(ctx context.Context, groupID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "GroupHistory",
		trace.WithAttributes(
			attribute.String("group.id", groupID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := repo.GetGroup(ctx, s.DB, groupID, false); err != nil {
		if repo.IsNotFound(err) {
			return nil, 0, ErrGroupNotFound
		}
		return nil, 0, err
	}

	page, pageSize, offset := pageBounds(page, pageSize)
	total, err := repo.CountGroupMessages(ctx, s.DB, groupID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListGroupMessagesPage(ctx, s.DB, groupID, offset, pageSize)
	return items, total, err
}

// GroupHistoryETag fingerprints a group's message stream.
func (s *MessageService) GroupHistoryETag(ctx context.Context, groupID string) (string, error) {
	count, maxTS, err := repo.GroupMessagesStats(ctx, s.DB, groupID)
	if err != nil {
		return "", err
	}
	return weakETag("group:"+groupID, count, maxTS), nil
}

func weakETag(scope string, count int64, maxTS *time.Time) string {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	return fmt.Sprintf(`W/"%s:%d:%d"`, scope, count, ts)
}

// UnreadCounts returns, per sender, how many direct messages receiverID has
// not read yet.
func (s *MessageService) UnreadCounts(ctx context.Context, receiverID string) ([]domain.UnreadCount, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "UnreadCounts",
		trace.WithAttributes(attribute.String("user.id", receiverID)),
	)
	defer span.End()

	out, err := repo.UnreadCounts(ctx, s.DB, receiverID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.UnreadCount{}
	}
	return out, nil
}

// MarkConversationRead marks every unread message from senderUsername to
// receiverUsername as read and delivered, returning how many changed.
func (s *MessageService) MarkConversationRead(ctx context.Context, senderUsername, receiverUsername string) (int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "MarkConversationRead")
	defer span.End()

	sender, err := repo.GetUserByUsername(ctx, s.DB, normalizeUsername(senderUsername))
	if err != nil {
		return 0, userLookupErr(err)
	}
	receiver, err := repo.GetUserByUsername(ctx, s.DB, normalizeUsername(receiverUsername))
	if err != nil {
		return 0, userLookupErr(err)
	}
	n, err := repo.MarkConversationRead(ctx, s.DB, sender.ID, receiver.ID)
	span.SetAttributes(attribute.Int64("messages.updated", n))
	return n, err
}

func userLookupErr(err error) error {
	if repo.IsNotFound(err) {
		return ErrUserNotFound
	}
	return err
}

// Send relays a message on behalf of in.Sender and returns the stored
// message. replayed is true when an earlier send with the same idempotency
// key is returned instead.
func (s *MessageService) Send(ctx context.Context, in SendInput) (msg *domain.Message, replayed bool, err error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("user.id", in.Sender),
			attribute.Bool("message.group", in.IsGroup),
		),
	)
	defer span.End()

	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return nil, false, ErrEmptyContent
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(in.Content) > s.MaxContentRunes {
		return nil, false, ErrTooLong
	}
	if (in.IsGroup && in.GroupID == "") || (!in.IsGroup && in.Receiver == "") {
		return nil, false, ErrMissingRecipient
	}

	if in.IdempotencyKey != "" {
		if prev := s.replay(ctx, in); prev != nil {
			span.SetAttributes(attribute.Bool("idempotency.replayed", true))
			return prev, true, nil
		}
	}

	if in.IsGroup {
		if _, err := repo.GetGroup(ctx, s.DB, in.GroupID, false); err != nil {
			if repo.IsNotFound(err) {
				return nil, false, ErrGroupNotFound
			}
			return nil, false, err
		}
	} else if _, err := repo.GetUser(ctx, s.DB, in.Receiver); err != nil {
		return nil, false, userLookupErr(err)
	}

	if s.Relay == nil {
		return nil, false, ErrRelayUnavailable
	}
	m, err := s.Relay.Send(ctx, relay.SendMessagePayload{
		Sender:   in.Sender,
		Receiver: in.Receiver,
		GroupID:  in.GroupID,
		IsGroup:  in.IsGroup,
		Content:  in.Content,
		TempID:   in.TempID,
	})
	switch {
	case errors.Is(err, relay.ErrStopped):
		return nil, false, ErrRelayUnavailable
	case errors.Is(err, relay.ErrInvalidPayload):
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case err != nil:
		return nil, false, err
	}
	span.SetAttributes(attribute.String("message.id", m.ID))

	if in.IdempotencyKey != "" {
		// Best effort: a lost race leaves the first record in place.
		_, _ = repo.RecordSend(ctx, s.DB, in.sendKey(), m.ID, http.StatusCreated, time.Now().Add(s.ttl()))
	}
	return m, false, nil
}

func (s *MessageService) replay(ctx context.Context, in SendInput) *domain.Message {
	rec, err := repo.LookupSend(ctx, s.DB, in.sendKey(), time.Now().UTC())
	if err != nil {
		return nil
	}
	prev, err := repo.GetMessage(ctx, s.DB, rec.MessageID)
	if err != nil {
		return nil
	}
	return prev
}

// HasSend reports whether a live idempotency record exists. It backs the
// idempotency middleware's replay detection.
func (s *MessageService) HasSend(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
	_, err := repo.LookupSend(ctx, s.DB, repo.SendKey{UserID: userID, Scope: scope, Key: key}, now)
	if err != nil {
		if repo.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *MessageService) ttl() time.Duration {
	if s.IdempotencyTTL <= 0 {
		return 24 * time.Hour
	}
	return s.IdempotencyTTL
}
