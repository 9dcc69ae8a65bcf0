// Package docs registers the OpenAPI description served by /swagger when
// SWAGGER_ENABLED is set. The document is maintained by hand as a summary of
// the REST routes; the godoc annotations in internal/http/handlers carry the
// full operation details. Keep the two in step when routes change.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "paths": {
        "/auth/register": {"post": {"tags": ["Auth"], "summary": "Register a user", "operationId": "register", "responses": {"201": {"description": "Created"}, "400": {"description": "Bad request"}, "409": {"description": "Username taken"}}}},
        "/auth/login": {"post": {"tags": ["Auth"], "summary": "Log in", "operationId": "login", "responses": {"200": {"description": "OK"}, "401": {"description": "Invalid credentials"}}}},
        "/users": {"get": {"tags": ["Users"], "summary": "List users", "operationId": "listUsers", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/users/search": {"get": {"tags": ["Users"], "summary": "Search users by username", "operationId": "searchUsers", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "query", "in": "query", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/users/bulk": {"post": {"tags": ["Users"], "summary": "Resolve user ids to names", "operationId": "bulkUsers", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad request"}}}},
        "/users/online": {"get": {"tags": ["Users"], "summary": "List online user ids", "operationId": "onlineUsers", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/users/{id}": {"get": {"tags": ["Users"], "summary": "Get a user", "operationId": "getUser", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "User not found"}}}},
        "/users/{id}/chat-partners": {"get": {"tags": ["Users"], "summary": "List chat partners", "operationId": "chatPartners", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "403": {"description": "Not the caller"}}}},
        "/messages/{userId}/{peerId}": {"get": {"tags": ["Messages"], "summary": "Direct conversation history", "operationId": "conversationHistory", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "userId", "in": "path", "required": true}, {"type": "string", "name": "peerId", "in": "path", "required": true}, {"type": "integer", "name": "page", "in": "query"}, {"type": "integer", "name": "page_size", "in": "query"}], "responses": {"200": {"description": "OK"}, "304": {"description": "Not Modified"}, "403": {"description": "Not a participant"}}}},
        "/messages/group/{groupId}": {"get": {"tags": ["Messages"], "summary": "Group message history", "operationId": "groupHistory", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "groupId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "304": {"description": "Not Modified"}, "404": {"description": "Group not found"}}}},
        "/messages/unread-count/{userId}": {"get": {"tags": ["Messages"], "summary": "Unread counts per sender", "operationId": "unreadCounts", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "userId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/messages/mark-read": {"patch": {"tags": ["Messages"], "summary": "Mark a conversation read", "operationId": "markRead", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}, "404": {"description": "User not found"}}}},
        "/messages/send": {"post": {"tags": ["Messages"], "summary": "Send a message", "operationId": "sendMessage", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "Idempotency-Key", "in": "header"}], "responses": {"201": {"description": "Stored message"}, "200": {"description": "Replayed message"}, "503": {"description": "Relay unavailable"}}}},
        "/groups": {
            "get": {"tags": ["Groups"], "summary": "List the caller's groups", "operationId": "listGroups", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["Groups"], "summary": "Create a group", "operationId": "createGroup", "security": [{"BearerAuth": []}], "responses": {"201": {"description": "Created"}, "400": {"description": "Bad request"}}}
        },
        "/groups/{id}": {"get": {"tags": ["Groups"], "summary": "Get a group", "operationId": "getGroup", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "403": {"description": "Not a member"}, "404": {"description": "Group not found"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "go-dm-backend API",
	Description:      "Direct and group messaging: users, history, receipts and sends. Real-time delivery runs over the /ws socket.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
