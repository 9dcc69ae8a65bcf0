package relay

import (
	"context"
	"encoding/json"
	"fmt"
)

// sessionState is the per-connection lifecycle:
// anonymous -> joined -> (closed). A closed session is removed from the
// engine, so any later frame for that connection is rejected as unknown.
type sessionState int

const (
	stateAnonymous sessionState = iota
	stateJoined
)

func (s sessionState) String() string {
	if s == stateJoined {
		return "joined"
	}
	return "anonymous"
}

// session is the engine's view of one socket. Only the run loop touches it.
type session struct {
	connID    string
	principal string // authenticated user, "" when auth is off
	userID    string // user the connection joined as
	state     sessionState
}

func (e *Engine) connect(connID, principal string) {
	if _, exists := e.sessions[connID]; exists {
		return
	}
	e.sessions[connID] = &session{connID: connID, principal: principal}
	e.Log.Debug().Str("conn_id", connID).Str("principal", principal).Msg("session opened")
}

// onJoin binds the connection to a user. A second join on the same
// connection re-registers it (last write wins).
func (e *Engine) onJoin(_ context.Context, s *session, data json.RawMessage) error {
	p, err := decode[JoinPayload](e, data)
	if err != nil {
		return err
	}
	if s.principal != "" && s.principal != p.UserID {
		return fmt.Errorf("%w: join as %q", ErrIdentityMismatch, p.UserID)
	}

	s.userID = p.UserID
	s.state = stateJoined
	online := e.Presence.Join(p.UserID, s.connID)
	relayOnline.Set(float64(len(online)))

	e.Log.Info().Str("user_id", p.UserID).Str("conn_id", s.connID).Msg("user joined")
	e.broadcast(EventUpdateOnlineUsers, online)
	return nil
}

// disconnect closes the session and broadcasts the online set when the user
// actually went offline. Unknown or anonymous connections are a no-op.
func (e *Engine) disconnect(_ context.Context, connID string) {
	s, ok := e.sessions[connID]
	delete(e.sessions, connID)
	if !ok || s.state != stateJoined {
		return
	}

	userID, changed := e.Presence.Leave(connID)
	e.Log.Info().Str("user_id", userID).Str("conn_id", connID).Bool("offline", changed).Msg("user disconnected")
	if !changed {
		return
	}
	online := e.Presence.Online()
	relayOnline.Set(float64(len(online)))
	e.broadcast(EventUpdateOnlineUsers, online)
}

// speaksFor enforces that a payload's user field names the joined user.
func (s *session) speaksFor(userID string) error {
	if userID != s.userID {
		return fmt.Errorf("%w: %q is joined as %q", ErrIdentityMismatch, s.connID, s.userID)
	}
	return nil
}
