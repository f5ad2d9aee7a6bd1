package transport

import (
	"context"
	"fmt"
	"time"

	perrors "github.com/vinayprograms/editorbridge/errors"
	"github.com/vinayprograms/editorbridge/protocol"
)

// Subscription is a registered handler.
type Subscription struct {
	t       *Transport
	id      uint64
	msgType protocol.MessageType
	handler Handler
}

// Type returns the message type the handler receives.
func (s *Subscription) Type() protocol.MessageType {
	return s.msgType
}

// Unsubscribe removes the handler. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.t.Unsubscribe(s)
}

// Subscribe registers h for inbound envelopes of msgType. Handlers of one
// type run in registration order.
func (t *Transport) Subscribe(msgType protocol.MessageType, h Handler) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSubID++
	sub := &Subscription{t: t, id: t.nextSubID, msgType: msgType, handler: h}
	t.handlers[msgType] = append(t.handlers[msgType], sub)
	return sub
}

// Unsubscribe removes sub.
func (t *Transport) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.handlers[sub.msgType]
	for i, s := range subs {
		if s.id == sub.id {
			t.handlers[sub.msgType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// HandlerCount returns the number of handlers for msgType.
func (t *Transport) HandlerCount(msgType protocol.MessageType) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers[msgType])
}

func (t *Transport) dispatch(msg *protocol.Message) {
	t.mu.Lock()
	subs := append([]*Subscription(nil), t.handlers[msg.Type]...)
	t.mu.Unlock()

	for _, sub := range subs {
		if err := t.invoke(sub, msg); err != nil {
			t.reportError(err)
		}
	}
}

// invoke runs one handler, turning a panic into an INTERNAL_ERROR.
func (t *Transport) invoke(sub *Subscription, msg *protocol.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = perrors.RecoverPanic(r)
		}
		if err != nil {
			err = perrors.Wrap(err, fmt.Sprintf("%s handler", msg.Type),
				perrors.WithDetail("message_id", msg.ID))
		}
	}()
	return sub.handler(context.Background(), msg)
}

// --- Notifications ---

// Watch returns a channel of notifications. Slow readers lose
// notifications rather than block the transport. The channel closes on
// Close.
func (t *Transport) Watch() <-chan Notification {
	t.watchMu.Lock()
	defer t.watchMu.Unlock()
	ch := make(chan Notification, 64)
	if t.watchClosed {
		close(ch)
		return ch
	}
	t.watchers = append(t.watchers, ch)
	return ch
}

func (t *Transport) notify(n Notification) {
	n.Time = time.Now()
	t.watchMu.Lock()
	defer t.watchMu.Unlock()
	if t.watchClosed {
		return
	}
	for _, ch := range t.watchers {
		select {
		case ch <- n:
		default:
		}
	}
}
