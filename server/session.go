package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vinayprograms/editorbridge/adapter"
	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/protocol"
	"github.com/vinayprograms/editorbridge/transport"
)

// Event names the server emits on its own.
const (
	EventError           = "bridge.error"
	EventAdaptersChanged = "bridge.adapters_changed"
)

// AdapterChange is the payload of EventAdaptersChanged.
type AdapterChange struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// session is one WebSocket client.
type session struct {
	id     string
	conn   *websocket.Conn
	srv    *Server
	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
	inflight  sync.WaitGroup

	mu     sync.Mutex
	client *protocol.PeerInfo
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}
	conn.SetReadLimit(protocol.MaxMessageSize)

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{id: uuid.NewString(), conn: conn, srv: s, ctx: ctx, cancel: cancel}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	s.monitor.Touch(sess.id)
	s.logger.SessionEvent(sess.id, "opened", map[string]interface{}{"remote": r.RemoteAddr})

	sess.run()
}

func (sess *session) run() {
	s := sess.srv
	defer s.wg.Done()
	defer func() {
		sess.cancel()
		sess.inflight.Wait()
		sess.conn.Close()

		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		s.monitor.Forget(sess.id)
		s.logger.SessionEvent(sess.id, "closed", nil)
	}()

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if sess.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("session read failed", map[string]interface{}{
					"session": sess.id,
					"error":   err.Error(),
				})
			}
			return
		}
		s.monitor.Touch(sess.id)
		sess.handle(data)
	}
}

// handle processes one inbound frame. Requests are served concurrently so a
// slow adapter does not hold up the session.
func (sess *session) handle(data []byte) {
	s := sess.srv

	msg, err := protocol.Parse(data)
	if err != nil {
		sess.reject(nil, err)
		return
	}
	if v := protocol.Validate(msg); !v.Valid {
		sess.reject(msg, perrors.InvalidRequest("invalid message: "+v.Error(), perrors.WithDetail("errors", v.Errors)))
		return
	}

	switch msg.Type {
	case protocol.TypeRequest:
		sess.inflight.Add(1)
		go func() {
			defer sess.inflight.Done()
			sess.send(s.dispatch(sess.ctx, sess.id, msg))
		}()

	case protocol.TypeEvent:
		if err := s.publish(sess.ctx, msg, sess.id); err != nil {
			sess.reject(msg, err)
		}

	case protocol.TypeHandshake:
		reply, ok := s.handshake(msg)
		sess.send(reply)
		if !ok {
			s.logger.SessionEvent(sess.id, "rejected", map[string]interface{}{
				"client":  msg.ClientInfo.Name,
				"version": msg.Version,
			})
			sess.closeWith("", 0)
			return
		}
		sess.mu.Lock()
		sess.client = msg.ClientInfo
		sess.mu.Unlock()
		s.logger.SessionEvent(sess.id, "handshake", map[string]interface{}{
			"client":       msg.ClientInfo.Name,
			"capabilities": len(reply.Capabilities),
		})

	case protocol.TypeHeartbeat:
		if msg.Status == protocol.HeartbeatPing {
			sess.send(s.factory.NewHeartbeat(protocol.HeartbeatPong))
		}

	case protocol.TypeDisconnect:
		s.logger.SessionEvent(sess.id, "disconnect", map[string]interface{}{"reason": msg.Reason})
		sess.closeWith("", 0)

	case protocol.TypeResponse:
		s.logger.Debug("unsolicited response dropped", map[string]interface{}{
			"session": sess.id,
			"request": msg.RequestID,
		})
	}
}

// reject reports a bad frame. A request gets a failed response so the
// caller's pending entry settles; anything else gets an error event.
func (sess *session) reject(msg *protocol.Message, err error) {
	s := sess.srv
	s.logger.Warn("invalid frame", map[string]interface{}{
		"session": sess.id,
		"error":   err.Error(),
	})
	if msg != nil && msg.Type == protocol.TypeRequest && msg.ID != "" {
		sess.send(s.respond(msg.ID, nil, err))
		return
	}
	ev, encErr := s.factory.NewEvent(EventError, protocol.ErrorInfoFrom(err))
	if encErr == nil {
		sess.send(ev)
	}
}

func (sess *session) send(msg *protocol.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return perrors.WrapWithCode(err, perrors.ErrCodeInvalidRequest, "encoding message")
	}
	return sess.sendRaw(data)
}

func (sess *session) sendRaw(data []byte) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	sess.conn.SetWriteDeadline(time.Now().Add(sess.srv.cfg.WriteTimeout))
	if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return perrors.ConnectionLost("session write failed", perrors.WithCause(err),
			perrors.WithDetail("session", sess.id))
	}
	return nil
}

// closeWith ends the session. A non-empty reason is first sent as a
// disconnect envelope carrying code.
func (sess *session) closeWith(reason string, code int) {
	sess.closeOnce.Do(func() {
		if reason != "" {
			sess.send(sess.srv.factory.NewDisconnect(reason, code))
		}
		sess.writeMu.Lock()
		sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), time.Now().Add(time.Second))
		sess.writeMu.Unlock()
		sess.cancel()
		sess.conn.Close()
	})
}

// expire closes a session the idle monitor presumed dead.
func (s *Server) expire(id string) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		s.monitor.Forget(id)
		return
	}
	s.logger.SessionEvent(id, "idle", map[string]interface{}{"timeout": s.cfg.IdleTimeout.String()})
	sess.closeWith("idle timeout", transport.DisconnectIdle)
}

// fanOut delivers bus events to every session except the one that
// published them.
func (s *Server) fanOut() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-s.events.Messages():
			if !ok {
				return
			}
			s.broadcast(m.Data, m.Origin)
		}
	}
}

func (s *Server) broadcast(data []byte, origin string) {
	s.mu.RLock()
	targets := make([]*session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if id != origin {
			targets = append(targets, sess)
		}
	}
	s.mu.RUnlock()

	for _, sess := range targets {
		if err := sess.sendRaw(data); err != nil {
			s.logger.Debug("event delivery failed", map[string]interface{}{
				"session": sess.id,
				"error":   err.Error(),
			})
		}
	}
}

// watchRegistry announces adapter changes to every client.
func (s *Server) watchRegistry(events <-chan adapter.Event) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg, err := s.factory.NewEvent(EventAdaptersChanged, AdapterChange{Type: string(ev.Type), ID: ev.ID})
			if err != nil {
				continue
			}
			if err := s.publish(context.Background(), msg, ""); err != nil {
				s.logger.Warn("adapter change not published", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
