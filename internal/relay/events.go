package relay

// Inbound events a client may send over its socket.
const (
	EventJoin             = "join"
	EventSendMessage      = "sendMessage"
	EventDelivered        = "delivered"
	EventMessageRead      = "messageRead"
	EventTyping           = "typing"
	EventStopTyping       = "stopTyping"
	EventResetUnreadCount = "resetUnreadCount"

	// EventDisconnect is never read from the wire; the transport reports it
	// through Engine.Disconnect when a socket goes away.
	EventDisconnect = "disconnect"
)

// Outbound events the relay emits.
const (
	EventUpdateOnlineUsers = "updateOnlineUsers"
	EventReceiveMessage    = "receiveMessage"
	EventMessageSentAck    = "messageSentAck"
	EventRead              = "read"
	EventError             = "error"
	// delivered, typing, stopTyping and resetUnreadCount reuse the inbound names.
)

// JoinPayload binds the connection to a user.
type JoinPayload struct {
	UserID string `json:"userId" validate:"required,max=64"`
}

// SendMessagePayload is a direct or group message submitted by its sender.
// Receiver is required for direct messages, GroupID when IsGroup is set.
type SendMessagePayload struct {
	Sender   string `json:"sender"   validate:"required,max=64"`
	Receiver string `json:"receiver" validate:"required_if=IsGroup false,max=64"`
	GroupID  string `json:"groupId"  validate:"required_if=IsGroup true,max=64"`
	IsGroup  bool   `json:"isGroup"`
	Content  string `json:"content"  validate:"required,max=8192"`
	TempID   string `json:"tempId"   validate:"max=128"`
}

// DeliveredPayload acknowledges that the receiving client got a message.
type DeliveredPayload struct {
	MessageID string `json:"messageId" validate:"required,max=64"`
	Receiver  string `json:"receiver"  validate:"max=64"`
}

// MessageReadPayload reports that the receiving client displayed a message.
// Sender is informational; the stored sender is notified.
type MessageReadPayload struct {
	MessageID string `json:"messageId" validate:"required,max=64"`
	Sender    string `json:"sender"    validate:"max=64"`
}

// TypingPayload starts or stops a typing indicator towards a user or group.
type TypingPayload struct {
	From    string `json:"from"    validate:"required,max=64"`
	To      string `json:"to"      validate:"required_without=GroupID,max=64"`
	GroupID string `json:"groupId" validate:"max=64"`
}

// ResetUnreadPayload asks the recipient's UI to clear its counter for From.
type ResetUnreadPayload struct {
	From string `json:"from" validate:"required,max=64"`
	To   string `json:"to"   validate:"required,max=64"`
}

// MessageRef identifies a message in delivered/read notifications.
type MessageRef struct {
	MessageID string `json:"messageId"`
	TempID    string `json:"tempId,omitempty"`
}

// TypingNotice is emitted for typing and stopTyping.
type TypingNotice struct {
	From    string `json:"from"`
	GroupID string `json:"groupId,omitempty"`
}

// ResetUnreadNotice is emitted for resetUnreadCount.
type ResetUnreadNotice struct {
	From string `json:"from"`
}

// ErrorNotice is sent back to the originating socket when an event is rejected.
type ErrorNotice struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
