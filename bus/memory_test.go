package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	perrors "github.com/vinayprograms/editorbridge/errors"
)

func receive(t *testing.T, sub Subscription) *Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatal("subscription closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	return nil
}

// --- Unit Tests ---

func TestValidateSubject(t *testing.T) {
	tests := []struct {
		subject string
		wantErr bool
	}{
		{"bridge.events", false},
		{"bridge.events.vscode", false},
		{"", true},
		{"bridge.*", true},
		{"bridge.>", true},
		{"has space", true},
	}

	for _, tt := range tests {
		err := ValidateSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSubject(%q) = %v, wantErr %v", tt.subject, err, tt.wantErr)
		}
		if err != nil && !perrors.Is(err, perrors.ErrCodeInvalidRequest) {
			t.Errorf("ValidateSubject(%q) code = %s", tt.subject, perrors.Code(err))
		}
	}
}

func TestNew(t *testing.T) {
	b, err := New(Config{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*MemoryBus); !ok {
		t.Errorf("default kind = %T, want *MemoryBus", b)
	}

	if _, err := New(Config{Kind: "kafka"}); !perrors.Is(err, perrors.ErrCodeInvalidRequest) {
		t.Errorf("unknown kind err = %v", err)
	}
}

func TestMemoryBus_PubSub(t *testing.T) {
	b := NewMemoryBus(0)
	defer b.Close()

	sub1, _ := b.Subscribe(DefaultSubject)
	sub2, _ := b.Subscribe(DefaultSubject)
	other, _ := b.Subscribe("bridge.other")

	err := b.Publish(context.Background(), &Message{Subject: DefaultSubject, Origin: "s1", Data: []byte("hello")})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	for _, sub := range []Subscription{sub1, sub2} {
		msg := receive(t, sub)
		if string(msg.Data) != "hello" || msg.Origin != "s1" || msg.Subject != DefaultSubject {
			t.Errorf("msg = %+v", msg)
		}
	}
	select {
	case msg := <-other.Messages():
		t.Errorf("other subject received %+v", msg)
	default:
	}
}

func TestMemoryBus_PublishWithoutSubscribers(t *testing.T) {
	b := NewMemoryBus(0)
	defer b.Close()

	if err := b.Publish(context.Background(), &Message{Subject: "nobody", Data: []byte("x")}); err != nil {
		t.Errorf("Publish error: %v", err)
	}
}

func TestMemoryBus_FullBufferDrops(t *testing.T) {
	b := NewMemoryBus(2)
	defer b.Close()

	sub, _ := b.Subscribe("s")
	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), &Message{Subject: "s", Data: []byte{byte(i)}})
	}

	if len(sub.Messages()) != 2 {
		t.Errorf("buffered = %d, want 2", len(sub.Messages()))
	}
	if b.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", b.Dropped())
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	b := NewMemoryBus(0)
	defer b.Close()

	sub, _ := b.Subscribe("s")
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe error: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("second Unsubscribe error: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Error("channel should be closed")
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	if err := b.Publish(context.Background(), &Message{Subject: "s"}); err != nil {
		t.Errorf("Publish error: %v", err)
	}
}

func TestMemoryBus_Close(t *testing.T) {
	b := NewMemoryBus(0)
	sub, _ := b.Subscribe("s")

	b.Close()
	b.Close()

	if _, ok := <-sub.Messages(); ok {
		t.Error("subscription should close with the bus")
	}
	if err := b.Publish(context.Background(), &Message{Subject: "s"}); !perrors.Is(err, perrors.ErrCodeConnectionLost) {
		t.Errorf("Publish after Close = %v", err)
	}
	if _, err := b.Subscribe("s"); !perrors.Is(err, perrors.ErrCodeConnectionLost) {
		t.Errorf("Subscribe after Close = %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Unsubscribe after Close = %v", err)
	}
}

func TestMemoryBus_CanceledContext(t *testing.T) {
	b := NewMemoryBus(0)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Publish(ctx, &Message{Subject: "s"}); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestMemoryBus_ConcurrentPublish(t *testing.T) {
	b := NewMemoryBus(1000)
	defer b.Close()

	sub, _ := b.Subscribe("s")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(context.Background(), &Message{Subject: "s", Data: []byte(fmt.Sprintf("%d-%d", i, j))})
			}
		}(i)
	}
	wg.Wait()

	if got := len(sub.Messages()); got != 500 {
		t.Errorf("received %d, want 500", got)
	}
}
