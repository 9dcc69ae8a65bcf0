// Package relay routes real-time chat events between connected users.
//
// The Engine owns a single run loop. Every inbound event, whether it arrives
// from a socket or from the REST send endpoint, is queued on one inbox and
// handled to completion before the next is taken, so the emissions produced
// for one connection's events leave in the order the events were received.
// Handlers look events up in a dispatch table keyed by event name and decode
// into typed, validated payloads.
//
// The engine talks to three collaborators:
//
//   - Store persists messages and their delivered/read flags and resolves
//     group membership.
//   - presence.Registry maps user IDs to live connection IDs.
//   - Emitter writes outbound events to sockets (implemented by the ws hub).
//
// Failures are contained per event: a rejected payload is answered with an
// "error" event to its sender, a store failure aborts the event before
// anything is emitted, and an offline recipient is simply skipped. Nothing
// here stops the loop.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/presence"
)

// Store is the persistence contract the engine needs.
type Store interface {
	// CreateMessage persists m with delivered=false and read=false, filling
	// its ID and Timestamp.
	CreateMessage(ctx context.Context, m *domain.Message) error

	// MarkDelivered sets delivered=true on behalf of recipientID and returns
	// the stored message. Unknown IDs yield ErrMessageNotFound; a user who is
	// neither the direct receiver nor a group member other than the sender
	// yields ErrIdentityMismatch and nothing is written.
	MarkDelivered(ctx context.Context, messageID, recipientID string) (*domain.Message, error)

	// MarkRead sets read=true and delivered=true, with the same recipient
	// rule as MarkDelivered.
	MarkRead(ctx context.Context, messageID, recipientID string) (*domain.Message, error)

	// GroupMembers lists the user IDs of a group, or ErrGroupNotFound.
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
}

// Emitter delivers outbound events to sockets. Implementations must not
// block the caller for long; slow consumers are their problem to evict.
type Emitter interface {
	// Emit queues an event for one connection and reports whether the
	// connection was live.
	Emit(connID, event string, payload any) bool

	// Broadcast queues an event for every open connection.
	Broadcast(event string, payload any)
}

// handler processes one decoded client event for a session.
type handler struct {
	fn func(ctx context.Context, s *session, data json.RawMessage) error
	// anonymous marks handlers allowed before the connection has joined.
	anonymous bool
}

type jobKind int

const (
	jobFrame jobKind = iota
	jobConnect
	jobDisconnect
	jobSend
)

type job struct {
	ctx       context.Context
	kind      jobKind
	connID    string
	principal string
	event     string
	data      json.RawMessage
	send      SendMessagePayload
	reply     chan sendResult
}

type sendResult struct {
	msg *domain.Message
	err error
}

// Engine is the relay's event loop. Configure the exported fields before
// calling Run; they must not change afterwards.
type Engine struct {
	Store    Store
	Presence *presence.Registry
	Out      Emitter
	Validate *validator.Validate
	Log      zerolog.Logger

	inbox    chan job
	stopped  chan struct{}
	handlers map[string]handler
	sessions map[string]*session // owned by the run loop
	tracer   trace.Tracer
}

// NewEngine builds an engine with an inbox of queueSize pending events.
// Out may be set later, but before Run.
func NewEngine(store Store, reg *presence.Registry, out Emitter, queueSize int) *Engine {
	if queueSize <= 0 {
		queueSize = 1024
	}
	e := &Engine{
		Store:    store,
		Presence: reg,
		Out:      out,
		Validate: newValidator(),
		Log:      log.With().Str("component", "relay").Logger(),
		inbox:    make(chan job, queueSize),
		stopped:  make(chan struct{}),
		sessions: make(map[string]*session),
		tracer:   otel.Tracer("relay/Engine"),
	}
	e.handlers = map[string]handler{
		EventJoin:             {fn: e.onJoin, anonymous: true},
		EventSendMessage:      {fn: e.onSendMessage},
		EventDelivered:        {fn: e.onDelivered},
		EventMessageRead:      {fn: e.onMessageRead},
		EventTyping:           {fn: e.typingHandler(EventTyping)},
		EventStopTyping:       {fn: e.typingHandler(EventStopTyping)},
		EventResetUnreadCount: {fn: e.onResetUnreadCount},
	}
	return e
}

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Run processes queued events until ctx is cancelled. It must be called
// exactly once; Submit and friends fail with ErrStopped after it returns.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.stopped)
	e.Log.Info().Int("queue", cap(e.inbox)).Msg("relay loop started")
	for {
		select {
		case <-ctx.Done():
			e.Log.Info().Msg("relay loop stopped")
			return
		case j := <-e.inbox:
			relayQueue.Set(float64(len(e.inbox)))
			e.process(j)
		}
	}
}

// Connect opens a session for connID. principal is the authenticated user
// the transport vouched for, or "" when sockets are unauthenticated.
func (e *Engine) Connect(ctx context.Context, connID, principal string) error {
	return e.enqueue(ctx, job{ctx: context.WithoutCancel(ctx), kind: jobConnect, connID: connID, principal: principal})
}

// Submit queues a client frame for connID. Frames from one connection must
// be submitted from a single goroutine to keep their order.
func (e *Engine) Submit(ctx context.Context, connID, event string, data json.RawMessage) error {
	return e.enqueue(ctx, job{ctx: context.WithoutCancel(ctx), kind: jobFrame, connID: connID, event: event, data: data})
}

// Disconnect closes the session for connID and takes its user offline.
func (e *Engine) Disconnect(ctx context.Context, connID string) error {
	return e.enqueue(ctx, job{ctx: context.WithoutCancel(ctx), kind: jobDisconnect, connID: connID})
}

// Send relays a message on behalf of sender outside any socket session,
// e.g. from the REST API, and returns the persisted message. It runs on the
// same loop as socket events and emits exactly what a socket send would.
func (e *Engine) Send(ctx context.Context, p SendMessagePayload) (*domain.Message, error) {
	reply := make(chan sendResult, 1)
	if err := e.enqueue(ctx, job{ctx: ctx, kind: jobSend, send: p, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.stopped:
		return nil, ErrStopped
	}
}

func (e *Engine) enqueue(ctx context.Context, j job) error {
	select {
	case <-e.stopped:
		return ErrStopped
	default:
	}
	select {
	case e.inbox <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
}

func (e *Engine) process(j job) {
	switch j.kind {
	case jobConnect:
		e.connect(j.connID, j.principal)
	case jobDisconnect:
		e.observe(j.ctx, EventDisconnect, j.connID, func(ctx context.Context) error {
			e.disconnect(ctx, j.connID)
			return nil
		})
	case jobSend:
		var msg *domain.Message
		err := e.observe(j.ctx, EventSendMessage, "", func(ctx context.Context) error {
			if err := e.validate(j.send); err != nil {
				return err
			}
			m, err := e.sendMessage(ctx, j.send)
			msg = m
			return err
		})
		j.reply <- sendResult{msg: msg, err: err}
	case jobFrame:
		e.dispatch(j)
	}
}

// dispatch runs a client frame through the lifecycle gate and its handler.
func (e *Engine) dispatch(j job) {
	err := e.observe(j.ctx, j.event, j.connID, func(ctx context.Context) error {
		s, ok := e.sessions[j.connID]
		if !ok {
			return ErrUnknownConnection
		}
		h, ok := e.handlers[j.event]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownEvent, j.event)
		}
		if !h.anonymous && s.state != stateJoined {
			return ErrNotJoined
		}
		return h.fn(ctx, s, j.data)
	})
	if code := errorCode(err); code != "" {
		e.emit(j.connID, EventError, ErrorNotice{Event: j.event, Code: code, Message: err.Error()})
	}
}

// observe wraps fn in a span, a latency sample, an outcome counter and a
// log line for failures.
func (e *Engine) observe(ctx context.Context, event, connID string, fn func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "relay."+event,
		trace.WithAttributes(
			attribute.String("relay.event", event),
			attribute.String("conn.id", connID),
		),
	)
	defer span.End()

	label := event
	if _, known := e.handlers[event]; !known && event != EventDisconnect {
		label = "unknown"
	}

	start := time.Now()
	err := fn(ctx)
	relayEventLat.WithLabelValues(label).Observe(time.Since(start).Seconds())
	relayEvents.WithLabelValues(label, outcomeOf(err)).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		lvl := zerolog.WarnLevel
		if errors.Is(err, ErrPersist) {
			lvl = zerolog.ErrorLevel
		}
		e.Log.WithLevel(lvl).Err(err).Str("event", event).Str("conn_id", connID).Msg("relay event dropped")
	}
	return err
}

// decode unmarshals and validates a typed payload.
func decode[T any](e *Engine, data json.RawMessage) (T, error) {
	var p T
	if len(data) == 0 {
		return p, fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := e.validate(p); err != nil {
		return p, err
	}
	return p, nil
}

func (e *Engine) validate(p any) error {
	if err := e.Validate.Struct(p); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return fmt.Errorf("%w: %s failed on %s", ErrInvalidPayload, ve[0].Field(), ve[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// emit hands one event to the transport and counts it when the target was live.
func (e *Engine) emit(connID, event string, payload any) {
	if e.Out == nil {
		return
	}
	if e.Out.Emit(connID, event, payload) {
		relayEmissions.WithLabelValues(event).Inc()
	}
}

// emitTo emits to userID's live connection; offline users are skipped.
func (e *Engine) emitTo(userID, event string, payload any) bool {
	conn, ok := e.Presence.Lookup(userID)
	if !ok {
		return false
	}
	e.emit(conn, event, payload)
	return true
}

func (e *Engine) broadcast(event string, payload any) {
	if e.Out == nil {
		return
	}
	e.Out.Broadcast(event, payload)
	relayEmissions.WithLabelValues(event).Inc()
}
