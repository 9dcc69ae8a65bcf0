// User HTTP handlers.
//
// This file exposes REST endpoints for user lookup:
//   - GET  /users                      (all users)
//   - GET  /users/search?query=        (username search, excludes caller)
//   - POST /users/bulk                 (resolve ids to names)
//   - GET  /users/online               (ids with a live socket)
//   - GET  /users/{id}                 (one user)
//   - GET  /users/{id}/chat-partners   (users with a shared conversation)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BulkUsersRequest is the JSON payload for resolving user ids.
type BulkUsersRequest struct {
	IDs []string `json:"ids" binding:"required" example:"8f14e45f-ceea-4e7a-9c5b-7f3c2d1e0a9b"`
}

// OnlineUsersResponse lists the ids of connected users.
type OnlineUsersResponse struct {
	Online []string `json:"online"`
}

// ListUsers godoc
// @ID          listUsers
// @Summary     List users
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {array}   domain.User
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		failInternal(c, ErrCodeListFailed, err)
		return
	}
	ok(c, http.StatusOK, users)
}

// SearchUsers godoc
// @ID          searchUsers
// @Summary     Search users by username
// @Description Case-insensitive substring match on usernames. The caller is never included.
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
//
// @Param       X-User-ID  header  string  false "Caller id when auth is disabled"
// @Param       query      query   string  true  "Search text"  example(ali)
//
// @Success     200  {array}   domain.User
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users/search [get]
func (h *Handlers) SearchUsers(c *gin.Context) {
	users, err := h.users.Search(c.Request.Context(), c.Query("query"), userID(c))
	if err != nil {
		failInternal(c, ErrCodeListFailed, err)
		return
	}
	ok(c, http.StatusOK, users)
}

// BulkUsers godoc
// @ID          bulkUsers
// @Summary     Resolve user ids to names
// @Description Unknown ids are omitted from the result.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.BulkUsersRequest  true  "User ids"
//
// @Success     200  {array}   services.UserRef
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users/bulk [post]
func (h *Handlers) BulkUsers(c *gin.Context) {
	var req BulkUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ids array required")
		return
	}
	refs, err := h.users.Bulk(c.Request.Context(), req.IDs)
	if err != nil {
		failInternal(c, ErrCodeListFailed, err)
		return
	}
	ok(c, http.StatusOK, refs)
}

// OnlineUsers godoc
// @ID          onlineUsers
// @Summary     List online user ids
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.OnlineUsersResponse
// @Router      /users/online [get]
func (h *Handlers) OnlineUsers(c *gin.Context) {
	ok(c, http.StatusOK, OnlineUsersResponse{Online: h.users.Online()})
}

// GetUser godoc
// @ID          getUser
// @Summary     Get a user
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "User ID"
//
// @Success     200  {object}  domain.User
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, u)
}

// ChatPartners godoc
// @ID          chatPartners
// @Summary     List chat partners
// @Description Users the given user has exchanged direct messages with.
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "User ID"
//
// @Success     200  {array}   domain.User
// @Failure     403  {object}  handlers.ErrorResponse  "Not the caller"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users/{id}/chat-partners [get]
func (h *Handlers) ChatPartners(c *gin.Context) {
	id := c.Param("id")
	if !allowSelf(c, id) {
		return
	}
	users, err := h.users.ChatPartners(c.Request.Context(), id)
	if err != nil {
		failInternal(c, ErrCodeListFailed, err)
		return
	}
	ok(c, http.StatusOK, users)
}
