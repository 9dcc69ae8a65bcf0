// Group HTTP handlers.
//
// This file exposes REST endpoints for groups:
//   - POST /groups        (create; the caller is always a member)
//   - GET  /groups        (groups the caller belongs to)
//   - GET  /groups/{id}   (one group with members)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CreateGroupRequest is the JSON payload for creating a group.
type CreateGroupRequest struct {
	// Name is optional; a default is used when empty.
	Name string `json:"name" binding:"max=255" example:"weekend plans"`
	// Members are the other user ids to add.
	Members []string `json:"members" binding:"required,min=1" example:"45c48cce-2e2d-4fbd-8a4f-6c1f0b2e3d4c"`
}

// CreateGroup godoc
// @ID          createGroup
// @Summary     Create a group
// @Tags        Groups
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       X-User-ID  header  string  false "Creator id when auth is disabled"
// @Param       body       body    handlers.CreateGroupRequest  true  "Group"
//
// @Success     201  {object}  domain.Group
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Caller unknown"
// @Failure     404  {object}  handlers.ErrorResponse  "Member not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /groups [post]
func (h *Handlers) CreateGroup(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "caller identity required")
		return
	}
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "members required")
		return
	}
	g, err := h.groups.Create(c.Request.Context(), uid, req.Name, req.Members)
	if err != nil {
		serviceError(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, g)
}

// ListGroups godoc
// @ID          listGroups
// @Summary     List the caller's groups
// @Tags        Groups
// @Produce     json
// @Security    BearerAuth
//
// @Param       X-User-ID  header  string  false "Caller id when auth is disabled"
//
// @Success     200  {array}   domain.Group
// @Failure     401  {object}  handlers.ErrorResponse  "Caller unknown"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /groups [get]
func (h *Handlers) ListGroups(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "caller identity required")
		return
	}
	groups, err := h.groups.ListForUser(c.Request.Context(), uid)
	if err != nil {
		failInternal(c, ErrCodeListFailed, err)
		return
	}
	ok(c, http.StatusOK, groups)
}

// GetGroup godoc
// @ID          getGroup
// @Summary     Get a group
// @Description Returns the group with its members. Authenticated callers must be members.
// @Tags        Groups
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Group ID"
//
// @Success     200  {object}  domain.Group
// @Failure     403  {object}  handlers.ErrorResponse  "Not a member"
// @Failure     404  {object}  handlers.ErrorResponse  "Group not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /groups/{id} [get]
func (h *Handlers) GetGroup(c *gin.Context) {
	g, err := h.groups.Get(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, g)
}
