// Message HTTP handlers.
//
// This file exposes REST endpoints for messages:
//   - GET   /messages/{userId}/{peerId}         (direct conversation, paginated, ETag)
//   - GET   /messages/group/{groupId}           (group stream, paginated, ETag)
//   - GET   /messages/unread-count/{userId}     (unread totals per sender)
//   - PATCH /messages/mark-read                 (mark a conversation read)
//   - POST  /messages/send                      (send through the relay)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (including newline constraints)
//   - delegate to application services (MessageService)
//   - implement conditional responses (ETag) and idempotency semantics
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// send exists for (user, route, key), the handler returns that stored message
// with 200 and sets `Idempotency-Replayed: true` instead of relaying again.
package handlers

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/services"
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for a REST send. Sender may be
// omitted when the caller is authenticated.
type SendMessageRequest struct {
	Sender   string `json:"sender" example:"8f14e45f-ceea-4e7a-9c5b-7f3c2d1e0a9b"`
	Receiver string `json:"receiver" example:"45c48cce-2e2d-4fbd-8a4f-6c1f0b2e3d4c"`
	GroupID  string `json:"groupId"`
	IsGroup  bool   `json:"isGroup"`
	Content  string `json:"content" binding:"required,min=1" example:"see you at 6?"`
	TempID   string `json:"tempId" binding:"max=128" example:"tmp-1697040000000"`
}

// SendMessageResponse wraps the stored message.
type SendMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// ListMessagesResponse contains a page of messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// MarkReadRequest names the conversation to mark: every unread message from
// SenderUsername to ReceiverUsername.
type MarkReadRequest struct {
	SenderUsername   string `json:"senderUsername" binding:"required" example:"bob"`
	ReceiverUsername string `json:"receiverUsername" binding:"required" example:"alice"`
}

// MarkReadResponse reports how many messages changed.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
// CRLF and CR become LF, runs of 3+ LFs collapse to two, and surrounding
// whitespace is trimmed.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

//
// Handlers
//

// ConversationHistory godoc
// @ID          conversationHistory
// @Summary     Direct conversation history
// @Description Returns a page of messages exchanged by two users, oldest first.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       userId         path    string  true  "One participant"
// @Param       peerId         path    string  true  "The other participant"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(200) default(50)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     403  {object} handlers.ErrorResponse "Not a participant"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /messages/{userId}/{peerId} [get]
func (h *Handlers) ConversationHistory(c *gin.Context) {
	ctx := c.Request.Context()
	a, b := c.Param("userId"), c.Param("peerId")
	if p := principal(c); p != "" && p != a && p != b {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not a participant of this conversation")
		return
	}

	// ETag pre-check (best effort).
	if etag, err := h.msgSvc.HistoryETag(ctx, a, b); err == nil && notModified(c, etag) {
		return
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.msgSvc.History(ctx, a, b, page, pageSize)
	if err != nil {
		failInternal(c, ErrCodeListFailed, err)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// GroupHistory godoc
// @ID          groupHistory
// @Summary     Group message history
// @Description Returns a page of a group's messages, oldest first. Authenticated callers must be members.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       groupId        path    string  true  "Group ID"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(200) default(50)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Success     304  {string} string "Not Modified"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Group not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /messages/group/{groupId} [get]
func (h *Handlers) GroupHistory(c *gin.Context) {
	ctx := c.Request.Context()
	groupID := c.Param("groupId")
	if p := principal(c); p != "" {
		if _, err := h.groups.Get(ctx, p, groupID); err != nil {
			serviceError(c, err, ErrCodeListFailed)
			return
		}
	}

	if etag, err := h.msgSvc.GroupHistoryETag(ctx, groupID); err == nil && notModified(c, etag) {
		return
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.msgSvc.GroupHistory(ctx, groupID, page, pageSize)
	if err != nil {
		serviceError(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// UnreadCounts godoc
// @ID          unreadCounts
// @Summary     Unread counts per sender
// @Description For each sender, how many direct messages the user has not read.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       userId  path  string  true  "Receiver user ID"
//
// @Success     200  {array}   domain.UnreadCount
// @Failure     403  {object}  handlers.ErrorResponse "Not the caller"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /messages/unread-count/{userId} [get]
func (h *Handlers) UnreadCounts(c *gin.Context) {
	id := c.Param("userId")
	if !allowSelf(c, id) {
		return
	}
	counts, err := h.msgSvc.UnreadCounts(c.Request.Context(), id)
	if err != nil {
		failInternal(c, ErrCodeListFailed, err)
		return
	}
	ok(c, http.StatusOK, counts)
}

// MarkRead godoc
// @ID          markRead
// @Summary     Mark a conversation read
// @Description Marks every unread message from sender to receiver as read and delivered.
// @Description Authenticated callers may only mark messages addressed to themselves.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.MarkReadRequest  true  "Conversation"
//
// @Success     200  {object}  handlers.MarkReadResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse "Not the receiver"
// @Failure     404  {object}  handlers.ErrorResponse "User not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /messages/mark-read [patch]
func (h *Handlers) MarkRead(c *gin.Context) {
	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "senderUsername and receiverUsername required")
		return
	}
	if name := principalUsername(c); principal(c) != "" && !strings.EqualFold(name, strings.TrimSpace(req.ReceiverUsername)) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "can only mark your own messages read")
		return
	}
	n, err := h.msgSvc.MarkConversationRead(c.Request.Context(), req.SenderUsername, req.ReceiverUsername)
	if err != nil {
		serviceError(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, MarkReadResponse{Updated: n})
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message
// @Description Persists a direct or group message and delivers it to online recipients
// @Description exactly as a socket send would. Supports idempotency via the
// @Description Idempotency-Key header (same key → same message, 200 on replay).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       X-User-ID        header  string  false "Sender id when auth is disabled"
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.SendMessageRequest  true  "Message"
//
// @Success     201  {object}  handlers.SendMessageResponse  "Stored message"
// @Success     200  {object}  handlers.SendMessageResponse  "Replayed message"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse        "Sender mismatch"
// @Failure     404  {object}  handlers.ErrorResponse        "Receiver or group not found"
// @Failure     503  {object}  handlers.ErrorResponse        "Relay unavailable"
// @Router      /messages/send [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	sender := strings.TrimSpace(req.Sender)
	if p := principal(c); p != "" {
		if sender != "" && sender != p {
			fail(c, http.StatusForbidden, ErrCodeForbidden, "sender must be the authenticated user")
			return
		}
		sender = p
	} else if sender == "" {
		sender = userID(c)
	}
	if sender == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "sender required")
		return
	}

	content := sanitizeContent(req.Content)
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), sendTimeout)
	defer cancel()

	m, replayed, err := h.msgSvc.Send(ctx, services.SendInput{
		Sender:         sender,
		Receiver:       strings.TrimSpace(req.Receiver),
		GroupID:        strings.TrimSpace(req.GroupID),
		IsGroup:        req.IsGroup,
		Content:        content,
		TempID:         req.TempID,
		IdempotencyKey: idempotencyKey(c),
		Scope:          middleware.IdempotencyScope(c),
	})
	if err != nil {
		serviceError(c, err, ErrCodeSendFailed)
		return
	}
	if replayed {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, SendMessageResponse{Message: m})
		return
	}
	ok(c, http.StatusCreated, SendMessageResponse{Message: m})
}
