package bus

import (
	"context"
	"testing"

	"github.com/leadline-io/leadline/internal/wire"
)

func TestPublishConsumeInbound(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()
	ctx := context.Background()

	in := InboundBatch{TenantID: "t1", Envelopes: []wire.Envelope{{Kind: wire.KindText, Text: "hi"}}}
	if err := mb.PublishInbound(ctx, in); err != nil {
		t.Fatalf("PublishInbound() error = %v", err)
	}
	got, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("ConsumeInbound() ok = false")
	}
	if got.TenantID != "t1" || len(got.Envelopes) != 1 || got.Envelopes[0].Text != "hi" {
		t.Errorf("ConsumeInbound() = %+v", got)
	}
}

func TestPublishAfterCloseReturnsError(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()
	ctx := context.Background()

	if err := mb.PublishInbound(ctx, InboundBatch{TenantID: "t1"}); err != ErrBusClosed {
		t.Errorf("PublishInbound() error = %v, want ErrBusClosed", err)
	}
	if err := mb.PublishRoster(ctx, RosterSync{TenantID: "t1"}); err != ErrBusClosed {
		t.Errorf("PublishRoster() error = %v, want ErrBusClosed", err)
	}
}

func TestConsumeUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus()
	done := make(chan bool, 1)
	go func() {
		_, ok := mb.ConsumeInbound(context.Background())
		done <- ok
	}()
	mb.Close()
	if ok := <-done; ok {
		t.Error("ConsumeInbound() ok = true after Close")
	}
}

func TestConsumeHonorsContextCancel(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := mb.ConsumeRoster(ctx); ok {
		t.Error("ConsumeRoster() ok = true with cancelled context")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()
	mb.Close()
}

func TestBroadcastReachesSubscribers(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	var got []string
	mb.Subscribe("a", func(e Event) { got = append(got, "a:"+e.Name) })
	mb.Subscribe("b", func(e Event) { got = append(got, "b:"+e.Name) })

	mb.Broadcast(Event{Name: "session.phase"})
	if len(got) != 2 {
		t.Fatalf("broadcast reached %d handlers, want 2", len(got))
	}

	mb.Unsubscribe("b")
	got = got[:0]
	mb.Broadcast(Event{Name: "session.phase"})
	if len(got) != 1 || got[0] != "a:session.phase" {
		t.Errorf("after unsubscribe got %v", got)
	}
}
