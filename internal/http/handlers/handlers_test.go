package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/http/middleware"
	"github.com/tbourn/go-dm-backend/internal/services"
)

// ---------- test plumbing ----------

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// Handlers.New expects interfaces in this package; we satisfy them with
// function-field stubs. A nil field panics if the test reaches it.

type stubUserSvc struct {
	register     func(ctx context.Context, username, name, password string) (*domain.User, error)
	login        func(ctx context.Context, username, password string) (*services.Session, error)
	get          func(ctx context.Context, id string) (*domain.User, error)
	list         func(ctx context.Context) ([]domain.User, error)
	search       func(ctx context.Context, query, callerID string) ([]domain.User, error)
	bulk         func(ctx context.Context, ids []string) ([]services.UserRef, error)
	chatPartners func(ctx context.Context, userID string) ([]domain.User, error)
	online       []string
}

func (s stubUserSvc) Register(ctx context.Context, u, n, p string) (*domain.User, error) {
	return s.register(ctx, u, n, p)
}
func (s stubUserSvc) Login(ctx context.Context, u, p string) (*services.Session, error) {
	return s.login(ctx, u, p)
}
func (s stubUserSvc) Get(ctx context.Context, id string) (*domain.User, error) { return s.get(ctx, id) }
func (s stubUserSvc) List(ctx context.Context) ([]domain.User, error)          { return s.list(ctx) }
func (s stubUserSvc) Search(ctx context.Context, q, caller string) ([]domain.User, error) {
	return s.search(ctx, q, caller)
}
func (s stubUserSvc) Bulk(ctx context.Context, ids []string) ([]services.UserRef, error) {
	return s.bulk(ctx, ids)
}
func (s stubUserSvc) ChatPartners(ctx context.Context, id string) ([]domain.User, error) {
	return s.chatPartners(ctx, id)
}
func (s stubUserSvc) Online() []string { return s.online }

type stubMsgSvc struct {
	history      func(ctx context.Context, a, b string, page, pageSize int) ([]domain.Message, int64, error)
	historyETag  func(ctx context.Context, a, b string) (string, error)
	groupHistory func(ctx context.Context, groupID string, page, pageSize int) ([]domain.Message, int64, error)
	groupETag    func(ctx context.Context, groupID string) (string, error)
	unread       func(ctx context.Context, receiverID string) ([]domain.UnreadCount, error)
	markRead     func(ctx context.Context, senderUsername, receiverUsername string) (int64, error)
	send         func(ctx context.Context, in services.SendInput) (*domain.Message, bool, error)
}

func (s stubMsgSvc) History(ctx context.Context, a, b string, p, ps int) ([]domain.Message, int64, error) {
	return s.history(ctx, a, b, p, ps)
}
func (s stubMsgSvc) HistoryETag(ctx context.Context, a, b string) (string, error) {
	if s.historyETag == nil {
		return "", errors.New("no etag")
	}
	return s.historyETag(ctx, a, b)
}
func (s stubMsgSvc) GroupHistory(ctx context.Context, g string, p, ps int) ([]domain.Message, int64, error) {
	return s.groupHistory(ctx, g, p, ps)
}
func (s stubMsgSvc) GroupHistoryETag(ctx context.Context, g string) (string, error) {
	if s.groupETag == nil {
		return "", errors.New("no etag")
	}
	return s.groupETag(ctx, g)
}
func (s stubMsgSvc) UnreadCounts(ctx context.Context, id string) ([]domain.UnreadCount, error) {
	return s.unread(ctx, id)
}
func (s stubMsgSvc) MarkConversationRead(ctx context.Context, from, to string) (int64, error) {
	return s.markRead(ctx, from, to)
}
func (s stubMsgSvc) Send(ctx context.Context, in services.SendInput) (*domain.Message, bool, error) {
	return s.send(ctx, in)
}

type stubGroupSvc struct {
	create func(ctx context.Context, creatorID, name string, members []string) (*domain.Group, error)
	get    func(ctx context.Context, callerID, groupID string) (*domain.Group, error)
	list   func(ctx context.Context, userID string) ([]domain.Group, error)
}

func (s stubGroupSvc) Create(ctx context.Context, c, n string, m []string) (*domain.Group, error) {
	return s.create(ctx, c, n, m)
}
func (s stubGroupSvc) Get(ctx context.Context, c, g string) (*domain.Group, error) {
	return s.get(ctx, c, g)
}
func (s stubGroupSvc) ListForUser(ctx context.Context, u string) ([]domain.Group, error) {
	return s.list(ctx, u)
}

// asUser simulates JWTAuth having authenticated the caller.
func asUser(id, username string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.CtxUserID, id)
		c.Set(middleware.CtxUsername, username)
		c.Next()
	}
}

func do(r http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("error body not json: %v (%s)", err, w.Body.String())
	}
	return e
}

// ---------- helpers-only unit tests ----------

func Test_sanitizeContent_and_clampPagination(t *testing.T) {
	raw := "  line1\r\n\r\n\r\n\r\nline2\rline3  "
	if got, want := sanitizeContent(raw), "line1\n\nline2\nline3"; got != want {
		t.Fatalf("sanitizeContent: got %q want %q", got, want)
	}
	if sanitizeContent(" \r\n\t ") != "" {
		t.Fatalf("sanitizeContent should trim to empty")
	}

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?page=-3&page_size=9999", nil)
	if p, ps := clampPagination(c); p != 1 || ps != 200 {
		t.Fatalf("clamp: got page=%d size=%d; want 1,200", p, ps)
	}
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?page=&page_size=0", nil)
	if p, ps := clampPagination(c); p != 1 || ps != 1 {
		t.Fatalf("clamp defaults: got %d,%d", p, ps)
	}
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	if p, ps := clampPagination(c); p != 1 || ps != 50 {
		t.Fatalf("clamp absent: got %d,%d", p, ps)
	}
}

func Test_newPagination(t *testing.T) {
	p := newPagination(2, 10, 25)
	if p.TotalPages != 3 || !p.HasNext {
		t.Fatalf("unexpected pagination: %+v", p)
	}
	p = newPagination(3, 10, 25)
	if p.HasNext {
		t.Fatalf("last page should not have next: %+v", p)
	}
	if p = newPagination(1, 10, 0); p.TotalPages != 0 || p.HasNext {
		t.Fatalf("empty: %+v", p)
	}
}

func Test_userID_principal(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	if userID(c) != "" || principal(c) != "" {
		t.Fatalf("expected anonymous caller")
	}
	c.Request.Header.Set("X-User-ID", " hdr ")
	if got := userID(c); got != "hdr" {
		t.Fatalf("header fallback: %q", got)
	}
	if principal(c) != "" {
		t.Fatalf("header must not count as principal")
	}
	c.Set(middleware.CtxUserID, "jwt-user")
	if userID(c) != "jwt-user" || principal(c) != "jwt-user" {
		t.Fatalf("principal should win over header")
	}
}

func Test_serviceError_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_ = captureLogs(t)
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrUserNotFound, 404, ErrCodeNotFound},
		{services.ErrGroupNotFound, 404, ErrCodeNotFound},
		{services.ErrForbidden, 403, ErrCodeForbidden},
		{services.ErrUsernameTaken, 409, ErrCodeConflict},
		{services.ErrInvalidCredentials, 401, ErrCodeUnauthorized},
		{services.ErrAuthDisabled, 501, ErrCodeUnavailable},
		{services.ErrRelayUnavailable, 503, ErrCodeUnavailable},
		{services.ErrTooLong, 400, ErrCodeBadRequest},
		{fmt.Errorf("%w: short", services.ErrInvalidInput), 400, ErrCodeBadRequest},
		{context.DeadlineExceeded, 504, ErrCodeUnavailable},
		{errors.New("boom"), 500, ErrCodeSendFailed},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		serviceError(c, tc.err, ErrCodeSendFailed)
		if w.Code != tc.status {
			t.Fatalf("%v: status %d want %d", tc.err, w.Code, tc.status)
		}
		if e := decodeErr(t, w); e.Code != tc.code {
			t.Fatalf("%v: code %q want %q", tc.err, e.Code, tc.code)
		}
	}
}

// ---------- auth ----------

func TestRegister_And_Login(t *testing.T) {
	gin.SetMode(gin.TestMode)
	users := stubUserSvc{
		register: func(_ context.Context, username, name, _ string) (*domain.User, error) {
			if username == "taken" {
				return nil, services.ErrUsernameTaken
			}
			return &domain.User{ID: "u1", Username: username, Name: name, PasswordHash: "secret-hash"}, nil
		},
		login: func(_ context.Context, username, password string) (*services.Session, error) {
			if password != "right1pass" {
				return nil, services.ErrInvalidCredentials
			}
			return &services.Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour), User: &domain.User{ID: "u1", Username: username}}, nil
		},
	}
	h := New(users, stubMsgSvc{}, stubGroupSvc{})
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)

	w := do(r, http.MethodPost, "/auth/register", `{"username":"alice","name":"Alice","password":"right1pass"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register -> %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "secret-hash") {
		t.Fatalf("password hash leaked: %s", w.Body.String())
	}

	if w = do(r, http.MethodPost, "/auth/register", `{"username":"taken","password":"right1pass"}`, nil); w.Code != http.StatusConflict {
		t.Fatalf("duplicate -> %d", w.Code)
	}
	if w = do(r, http.MethodPost, "/auth/register", `{"username":"x"}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing password -> %d", w.Code)
	}

	w = do(r, http.MethodPost, "/auth/login", `{"username":"alice","password":"right1pass"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login -> %d", w.Code)
	}
	var sess services.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil || sess.Token != "tok" || sess.User == nil {
		t.Fatalf("session body: %+v err=%v", sess, err)
	}

	if w = do(r, http.MethodPost, "/auth/login", `{"username":"alice","password":"nope"}`, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password -> %d", w.Code)
	}
}

// ---------- users ----------

func TestUserHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_ = captureLogs(t)
	var searchCaller string
	users := stubUserSvc{
		list: func(context.Context) ([]domain.User, error) {
			return []domain.User{{ID: "u1", Username: "alice"}, {ID: "u2", Username: "bob"}}, nil
		},
		search: func(_ context.Context, q, caller string) ([]domain.User, error) {
			searchCaller = caller
			if q != "bo" {
				t.Fatalf("query not passed through: %q", q)
			}
			return []domain.User{{ID: "u2", Username: "bob"}}, nil
		},
		bulk: func(_ context.Context, ids []string) ([]services.UserRef, error) {
			return []services.UserRef{{ID: ids[0], Name: "Alice"}}, nil
		},
		get: func(_ context.Context, id string) (*domain.User, error) {
			if id != "u1" {
				return nil, services.ErrUserNotFound
			}
			return &domain.User{ID: "u1", Username: "alice"}, nil
		},
		chatPartners: func(_ context.Context, id string) ([]domain.User, error) {
			return []domain.User{{ID: "u2"}}, nil
		},
		online: []string{"u1", "u2"},
	}
	h := New(users, stubMsgSvc{}, stubGroupSvc{})

	r := gin.New()
	r.GET("/users", h.ListUsers)
	r.GET("/users/search", h.SearchUsers)
	r.POST("/users/bulk", h.BulkUsers)
	r.GET("/users/online", h.OnlineUsers)
	r.GET("/users/:id", h.GetUser)
	r.GET("/users/:id/chat-partners", h.ChatPartners)

	if w := do(r, "GET", "/users", "", nil); w.Code != 200 || !strings.Contains(w.Body.String(), "bob") {
		t.Fatalf("list -> %d %s", w.Code, w.Body.String())
	}

	w := do(r, "GET", "/users/search?query=bo", "", map[string]string{"X-User-ID": "u1"})
	if w.Code != 200 || searchCaller != "u1" {
		t.Fatalf("search -> %d caller=%q", w.Code, searchCaller)
	}

	if w = do(r, "POST", "/users/bulk", `{"ids":["u1"]}`, nil); w.Code != 200 || !strings.Contains(w.Body.String(), `"name":"Alice"`) {
		t.Fatalf("bulk -> %d %s", w.Code, w.Body.String())
	}
	if w = do(r, "POST", "/users/bulk", `{"ids":"u1"}`, nil); w.Code != 400 {
		t.Fatalf("bulk bad body -> %d", w.Code)
	}

	w = do(r, "GET", "/users/online", "", nil)
	var online OnlineUsersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &online); err != nil || len(online.Online) != 2 {
		t.Fatalf("online -> %s", w.Body.String())
	}

	if w = do(r, "GET", "/users/u1", "", nil); w.Code != 200 {
		t.Fatalf("get -> %d", w.Code)
	}
	if w = do(r, "GET", "/users/nope", "", nil); w.Code != 404 || decodeErr(t, w).Code != ErrCodeNotFound {
		t.Fatalf("get missing -> %d", w.Code)
	}

	if w = do(r, "GET", "/users/u1/chat-partners", "", nil); w.Code != 200 {
		t.Fatalf("partners -> %d", w.Code)
	}
}

func TestChatPartners_ForbiddenForOtherUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(stubUserSvc{}, stubMsgSvc{}, stubGroupSvc{})
	r := gin.New()
	r.Use(asUser("u1", "alice"))
	r.GET("/users/:id/chat-partners", h.ChatPartners)

	w := do(r, "GET", "/users/u2/chat-partners", "", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

// ---------- messages ----------

func TestConversationHistory_ETag304_And_Page(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var gotPage, gotSize int
	msgs := stubMsgSvc{
		historyETag: func(_ context.Context, a, b string) (string, error) {
			return `W/"conversation:` + a + `:` + b + `:2:1"`, nil
		},
		history: func(_ context.Context, a, b string, page, pageSize int) ([]domain.Message, int64, error) {
			gotPage, gotSize = page, pageSize
			return []domain.Message{{ID: "m1", SenderID: a}, {ID: "m2", SenderID: b}}, 2, nil
		},
	}
	h := New(stubUserSvc{}, msgs, stubGroupSvc{})
	r := gin.New()
	r.GET("/messages/:userId/:peerId", h.ConversationHistory)

	w := do(r, "GET", "/messages/u1/u2?page=1&page_size=10", "", nil)
	if w.Code != 200 {
		t.Fatalf("history -> %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag != `W/"conversation:u1:u2:2:1"` {
		t.Fatalf("etag: %q", etag)
	}
	if gotPage != 1 || gotSize != 10 {
		t.Fatalf("paging not passed: %d %d", gotPage, gotSize)
	}
	var resp ListMessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || len(resp.Messages) != 2 || resp.Pagination.Total != 2 {
		t.Fatalf("body: %s", w.Body.String())
	}

	w = do(r, "GET", "/messages/u1/u2", "", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Fatalf("expected 304 with empty body, got %d %q", w.Code, w.Body.String())
	}
}

func TestConversationHistory_NonParticipantForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(stubUserSvc{}, stubMsgSvc{}, stubGroupSvc{})
	r := gin.New()
	r.Use(asUser("u3", "carol"))
	r.GET("/messages/:userId/:peerId", h.ConversationHistory)

	if w := do(r, "GET", "/messages/u1/u2", "", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestGroupHistory_MembershipAndNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	msgs := stubMsgSvc{
		groupHistory: func(_ context.Context, g string, _, _ int) ([]domain.Message, int64, error) {
			if g == "missing" {
				return nil, 0, services.ErrGroupNotFound
			}
			return []domain.Message{{ID: "m1"}}, 1, nil
		},
	}
	groups := stubGroupSvc{
		get: func(_ context.Context, caller, g string) (*domain.Group, error) {
			if caller != "u1" {
				return nil, services.ErrForbidden
			}
			return &domain.Group{ID: g}, nil
		},
	}
	h := New(stubUserSvc{}, msgs, groups)

	anon := gin.New()
	anon.GET("/messages/group/:groupId", h.GroupHistory)
	if w := do(anon, "GET", "/messages/group/g1", "", nil); w.Code != 200 {
		t.Fatalf("anon group history -> %d", w.Code)
	}
	if w := do(anon, "GET", "/messages/group/missing", "", nil); w.Code != 404 {
		t.Fatalf("missing group -> %d", w.Code)
	}

	outsider := gin.New()
	outsider.Use(asUser("u9", "mallory"))
	outsider.GET("/messages/group/:groupId", h.GroupHistory)
	if w := do(outsider, "GET", "/messages/group/g1", "", nil); w.Code != http.StatusForbidden {
		t.Fatalf("outsider -> %d", w.Code)
	}
}

func TestUnreadCounts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	msgs := stubMsgSvc{
		unread: func(_ context.Context, id string) ([]domain.UnreadCount, error) {
			return []domain.UnreadCount{{SenderID: "u2", Count: 3, SenderUsername: "bob"}}, nil
		},
	}
	h := New(stubUserSvc{}, msgs, stubGroupSvc{})
	r := gin.New()
	r.Use(asUser("u1", "alice"))
	r.GET("/messages/unread-count/:userId", h.UnreadCounts)

	w := do(r, "GET", "/messages/unread-count/u1", "", nil)
	if w.Code != 200 || !strings.Contains(w.Body.String(), `"_id":"u2"`) || !strings.Contains(w.Body.String(), `"senderUsername":"bob"`) {
		t.Fatalf("unread -> %d %s", w.Code, w.Body.String())
	}
	if w = do(r, "GET", "/messages/unread-count/u2", "", nil); w.Code != http.StatusForbidden {
		t.Fatalf("other user's counts -> %d", w.Code)
	}
}

func TestMarkRead(t *testing.T) {
	gin.SetMode(gin.TestMode)
	msgs := stubMsgSvc{
		markRead: func(_ context.Context, from, to string) (int64, error) {
			if from == "ghost" {
				return 0, services.ErrUserNotFound
			}
			return 2, nil
		},
	}
	h := New(stubUserSvc{}, msgs, stubGroupSvc{})

	r := gin.New()
	r.Use(asUser("u1", "alice"))
	r.PATCH("/messages/mark-read", h.MarkRead)

	w := do(r, "PATCH", "/messages/mark-read", `{"senderUsername":"bob","receiverUsername":"Alice"}`, nil)
	if w.Code != 200 || !strings.Contains(w.Body.String(), `"updated":2`) {
		t.Fatalf("mark read -> %d %s", w.Code, w.Body.String())
	}
	if w = do(r, "PATCH", "/messages/mark-read", `{"senderUsername":"alice","receiverUsername":"bob"}`, nil); w.Code != http.StatusForbidden {
		t.Fatalf("someone else's inbox -> %d", w.Code)
	}
	if w = do(r, "PATCH", "/messages/mark-read", `{"senderUsername":"ghost","receiverUsername":"alice"}`, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown sender -> %d", w.Code)
	}
	if w = do(r, "PATCH", "/messages/mark-read", `{}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("empty body -> %d", w.Code)
	}
}

func TestSendMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_ = captureLogs(t)

	var last services.SendInput
	msgs := stubMsgSvc{
		send: func(_ context.Context, in services.SendInput) (*domain.Message, bool, error) {
			last = in
			switch in.Receiver {
			case "ghost":
				return nil, false, services.ErrUserNotFound
			case "down":
				return nil, false, services.ErrRelayUnavailable
			}
			rcv := in.Receiver
			m := &domain.Message{ID: "m1", SenderID: in.Sender, ReceiverID: &rcv, Content: in.Content, TempID: in.TempID}
			return m, in.IdempotencyKey == "seen", nil
		},
	}
	h := New(stubUserSvc{}, msgs, stubGroupSvc{})

	anon := gin.New()
	anon.POST("/messages/send", h.SendMessage)

	w := do(anon, "POST", "/messages/send", `{"sender":"u1","receiver":"u2","content":"hi\r\n\r\n\r\nthere","tempId":"t1"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("send -> %d %s", w.Code, w.Body.String())
	}
	if last.Sender != "u1" || last.Content != "hi\n\nthere" || last.TempID != "t1" {
		t.Fatalf("unexpected input: %+v", last)
	}
	if last.Scope != "POST /messages/send" {
		t.Fatalf("scope: %q", last.Scope)
	}
	var resp SendMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Message == nil || resp.Message.ID != "m1" {
		t.Fatalf("body: %s", w.Body.String())
	}

	// Replay: 200 + header.
	w = do(anon, "POST", "/messages/send", `{"sender":"u1","receiver":"u2","content":"hi"}`, map[string]string{"Idempotency-Key": "seen"})
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay -> %d hdr=%q", w.Code, w.Header().Get("Idempotency-Replayed"))
	}
	if last.IdempotencyKey != "seen" {
		t.Fatalf("key not forwarded: %+v", last)
	}

	// Sender from header when body omits it.
	if w = do(anon, "POST", "/messages/send", `{"receiver":"u2","content":"hi"}`, map[string]string{"X-User-ID": "u7"}); w.Code != 201 || last.Sender != "u7" {
		t.Fatalf("header sender -> %d sender=%q", w.Code, last.Sender)
	}

	// Validation and error mapping.
	if w = do(anon, "POST", "/messages/send", `{"receiver":"u2","content":"hi"}`, nil); w.Code != 400 {
		t.Fatalf("no sender -> %d", w.Code)
	}
	if w = do(anon, "POST", "/messages/send", `{"sender":"u1","receiver":"u2","content":"  \r\n "}`, nil); w.Code != 400 {
		t.Fatalf("blank content -> %d", w.Code)
	}
	if w = do(anon, "POST", "/messages/send", `{"sender":"u1","receiver":"ghost","content":"x"}`, nil); w.Code != 404 {
		t.Fatalf("unknown receiver -> %d", w.Code)
	}
	if w = do(anon, "POST", "/messages/send", `{"sender":"u1","receiver":"down","content":"x"}`, nil); w.Code != 503 {
		t.Fatalf("relay down -> %d", w.Code)
	}

	// Authenticated: principal is the sender; a different body sender is refused.
	authed := gin.New()
	authed.Use(asUser("u1", "alice"))
	authed.POST("/messages/send", h.SendMessage)
	if w = do(authed, "POST", "/messages/send", `{"receiver":"u2","content":"x"}`, nil); w.Code != 201 || last.Sender != "u1" {
		t.Fatalf("authed send -> %d sender=%q", w.Code, last.Sender)
	}
	if w = do(authed, "POST", "/messages/send", `{"sender":"u2","receiver":"u1","content":"x"}`, nil); w.Code != http.StatusForbidden {
		t.Fatalf("spoofed sender -> %d", w.Code)
	}
}

// ---------- groups ----------

func TestGroupHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	groups := stubGroupSvc{
		create: func(_ context.Context, creator, name string, members []string) (*domain.Group, error) {
			if len(members) == 1 && members[0] == creator {
				return nil, services.ErrTooFewMembers
			}
			return &domain.Group{ID: "g1", Name: name, CreatedBy: creator}, nil
		},
		list: func(_ context.Context, u string) ([]domain.Group, error) {
			return []domain.Group{{ID: "g1", Name: "team"}}, nil
		},
		get: func(_ context.Context, caller, g string) (*domain.Group, error) {
			if g != "g1" {
				return nil, services.ErrGroupNotFound
			}
			return &domain.Group{ID: g, Members: []domain.User{{ID: "u1"}, {ID: "u2"}}}, nil
		},
	}
	h := New(stubUserSvc{}, stubMsgSvc{}, groups)
	r := gin.New()
	r.POST("/groups", h.CreateGroup)
	r.GET("/groups", h.ListGroups)
	r.GET("/groups/:id", h.GetGroup)

	uid := map[string]string{"X-User-ID": "u1"}
	if w := do(r, "POST", "/groups", `{"name":"team","members":["u2"]}`, uid); w.Code != 201 {
		t.Fatalf("create -> %d %s", w.Code, w.Body.String())
	}
	if w := do(r, "POST", "/groups", `{"members":["u1"]}`, uid); w.Code != 400 {
		t.Fatalf("too few -> %d", w.Code)
	}
	if w := do(r, "POST", "/groups", `{"name":"team"}`, uid); w.Code != 400 {
		t.Fatalf("no members -> %d", w.Code)
	}
	if w := do(r, "POST", "/groups", `{"members":["u2"]}`, nil); w.Code != 401 {
		t.Fatalf("anonymous create -> %d", w.Code)
	}
	if w := do(r, "GET", "/groups", "", uid); w.Code != 200 || !strings.Contains(w.Body.String(), "team") {
		t.Fatalf("list -> %d", w.Code)
	}
	if w := do(r, "GET", "/groups/g1", "", nil); w.Code != 200 || !strings.Contains(w.Body.String(), "members") {
		t.Fatalf("get -> %d %s", w.Code, w.Body.String())
	}
	if w := do(r, "GET", "/groups/nope", "", nil); w.Code != 404 {
		t.Fatalf("missing -> %d", w.Code)
	}
}
