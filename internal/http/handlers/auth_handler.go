// Auth HTTP handlers.
//
// This file exposes account endpoints:
//   - POST /auth/register   (create an account)
//   - POST /auth/login      (exchange credentials for a bearer token)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRequest is the JSON payload for creating an account.
type RegisterRequest struct {
	// Username is the unique handle (3–32 letters or digits).
	Username string `json:"username" binding:"required" example:"alice"`
	// Name is the display name; defaults to the username.
	Name string `json:"name" example:"Alice Liddell"`
	// Password must be 8–72 characters with at least one letter and one digit.
	Password string `json:"password" binding:"required" example:"wonder1and"`
}

// LoginRequest is the JSON payload for obtaining a token.
type LoginRequest struct {
	Username string `json:"username" binding:"required" example:"alice"`
	Password string `json:"password" binding:"required" example:"wonder1and"`
}

// Register godoc
// @ID          register
// @Summary     Register a user
// @Description Creates an account. Usernames are case-insensitive and unique.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.RegisterRequest  true  "Account details"
//
// @Success     201  {object}  domain.User
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Username taken"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username and password required")
		return
	}
	u, err := h.users.Register(c.Request.Context(), req.Username, req.Name, req.Password)
	if err != nil {
		serviceError(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, u)
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Description Verifies credentials and returns a bearer token for the API and socket.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
//
// @Success     200  {object}  services.Session
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid credentials"
// @Failure     501  {object}  handlers.ErrorResponse  "Auth not configured"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username and password required")
		return
	}
	sess, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		serviceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, sess)
}
