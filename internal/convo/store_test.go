package convo

import (
	"context"
	"testing"
	"time"

	"github.com/leadline-io/leadline/internal/identity"
	"github.com/leadline-io/leadline/internal/store"
)

const tenant = "t1"

var lead = identity.Canonical("4915112345678@s.whatsapp.net")

func newTestStore() *Store {
	return NewStore(store.NewMemoryConversationStore())
}

func userMsg(id, text string, ts time.Time) store.Message {
	return store.Message{ID: id, Text: text, Sender: store.SenderUser, Timestamp: ts}
}

func TestAppend_CreatesWarmConversation(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	c, err := s.Append(ctx, tenant, lead, userMsg("m1", "hi, is this still available?", time.Now()), "Maria", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Messages) != 1 {
		t.Fatalf("message count = %d, want 1", len(c.Messages))
	}
	if c.Status != store.StatusWarm {
		t.Errorf("status = %s, want WARM", c.Status)
	}
	if !c.IsBotActive {
		t.Error("bot should be active after live inbound")
	}
	if c.DisplayName != "Maria" {
		t.Errorf("display name = %q, want Maria", c.DisplayName)
	}
}

func TestAppend_HistoricalStaysCold(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	c, err := s.Append(ctx, tenant, lead, userMsg("m1", "old message", time.Now().Add(-24*time.Hour)), "", true)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != store.StatusCold {
		t.Errorf("status = %s, want COLD for historical", c.Status)
	}
	if c.IsBotActive {
		t.Error("historical append must not activate the bot")
	}
}

func TestAppend_Idempotent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	ts := time.Now()

	if _, err := s.Append(ctx, tenant, lead, userMsg("m1", "hello", ts), "", false); err != nil {
		t.Fatal(err)
	}
	c, err := s.Append(ctx, tenant, lead, userMsg("m1", "hello", ts), "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Messages) != 1 {
		t.Errorf("duplicate id appended: count = %d, want 1", len(c.Messages))
	}
}

func TestAppend_OrdersByTimestamp(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	base := time.Now()

	// Arrival order T3, T1, T2.
	for _, m := range []store.Message{
		userMsg("m3", "third", base.Add(3*time.Second)),
		userMsg("m1", "first", base.Add(1*time.Second)),
		userMsg("m2", "second", base.Add(2*time.Second)),
	} {
		if _, err := s.Append(ctx, tenant, lead, m, "", false); err != nil {
			t.Fatal(err)
		}
	}

	c, err := s.Get(ctx, tenant, lead)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third"}
	for i, w := range want {
		if c.Messages[i].Text != w {
			t.Errorf("messages[%d] = %q, want %q", i, c.Messages[i].Text, w)
		}
	}
}

func TestAppend_DerivedIDDeduplicatesRetries(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	ts := time.Now()

	// Same content, no transport id: retried delivery derives the same id.
	m := store.Message{Text: "retry me", Sender: store.SenderUser, Timestamp: ts}
	if _, err := s.Append(ctx, tenant, lead, m, "", false); err != nil {
		t.Fatal(err)
	}
	c, err := s.Append(ctx, tenant, lead, m, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Messages) != 1 {
		t.Errorf("retried delivery duplicated: count = %d, want 1", len(c.Messages))
	}
}

func TestAppend_OwnerMessageHumanTouch(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	// Seed a HOT, muted conversation with drafts.
	backing := store.NewMemoryConversationStore()
	s = NewStore(backing)
	seed := &store.Conversation{
		ID:               lead,
		Status:           store.StatusHot,
		IsMuted:          true,
		SuggestedReplies: []string{"draft a", "draft b"},
	}
	if err := backing.Save(ctx, tenant, seed); err != nil {
		t.Fatal(err)
	}

	c, err := s.Append(ctx, tenant, lead,
		store.Message{ID: "o1", Text: "I'll take it from here", Sender: store.SenderOwner, Timestamp: time.Now()},
		"", false)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != store.StatusWarm {
		t.Errorf("status = %s, want WARM after owner touch", c.Status)
	}
	if c.IsMuted {
		t.Error("owner message must unmute")
	}
	if !c.HasTag(TagHumanTouch) {
		t.Error("human-touch tag missing")
	}
	if len(c.SuggestedReplies) != 0 {
		t.Error("suggested replies must be cleared on owner message")
	}
}

func TestAppend_MutedConversationKeepsBotPaused(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryConversationStore()
	s := NewStore(backing)
	if err := backing.Save(ctx, tenant, &store.Conversation{
		ID: lead, Status: store.StatusWarm, IsMuted: true,
	}); err != nil {
		t.Fatal(err)
	}

	c, err := s.Append(ctx, tenant, lead, userMsg("m1", "hello again", time.Now()), "", false)
	if err != nil {
		t.Fatal(err)
	}
	if c.IsBotActive {
		t.Error("muted conversation must not reactivate the bot")
	}
}

func TestEnsureExists_NameUpgradeRule(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryConversationStore()
	s := NewStore(backing)

	other := identity.Canonical("4917700000001@s.whatsapp.net")
	if err := backing.Save(ctx, tenant, &store.Conversation{ID: lead, DisplayName: "4915112345678"}); err != nil {
		t.Fatal(err)
	}
	if err := backing.Save(ctx, tenant, &store.Conversation{ID: other, DisplayName: "Carlos Diaz"}); err != nil {
		t.Fatal(err)
	}

	err := s.EnsureExists(ctx, tenant, []RosterItem{
		{ID: lead, DisplayName: "Maria Gonzalez"},  // placeholder → richer: upgrade
		{ID: other, DisplayName: "4917700000001"},  // richer → placeholder: keep
		{ID: "4917700000002@s.whatsapp.net", DisplayName: "New Contact"}, // create
	})
	if err != nil {
		t.Fatal(err)
	}

	c1, _ := s.Get(ctx, tenant, lead)
	if c1.DisplayName != "Maria Gonzalez" {
		t.Errorf("placeholder name not upgraded: %q", c1.DisplayName)
	}
	c2, _ := s.Get(ctx, tenant, other)
	if c2.DisplayName != "Carlos Diaz" {
		t.Errorf("richer name downgraded: %q", c2.DisplayName)
	}
	c3, _ := s.Get(ctx, tenant, "4917700000002@s.whatsapp.net")
	if c3 == nil || c3.Status != store.StatusCold {
		t.Error("roster sync should create a bare COLD aggregate")
	}
}

func TestApplyVerdict_ShadowMode(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryConversationStore()
	s := NewStore(backing)
	if err := backing.Save(ctx, tenant, &store.Conversation{
		ID: lead, Status: store.StatusWarm, Tags: []string{"budget-known"},
	}); err != nil {
		t.Fatal(err)
	}

	v := Verdict{
		NewStatus:        store.StatusHot,
		Tags:             []string{"budget-known", "ready-to-buy"},
		SuggestedReplies: []string{"Great, when can we talk?"},
	}

	t.Run("autonomous closing disabled", func(t *testing.T) {
		c, err := s.ApplyVerdict(ctx, tenant, lead, v, false)
		if err != nil {
			t.Fatal(err)
		}
		if !c.IsMuted {
			t.Error("HOT without auto-close must mute")
		}
		if len(c.SuggestedReplies) == 0 {
			t.Error("drafts must be attached for the human")
		}
		if len(c.Tags) != 2 {
			t.Errorf("tags = %v, want union of 2", c.Tags)
		}
	})

	t.Run("autonomous closing enabled", func(t *testing.T) {
		c, err := s.ApplyVerdict(ctx, tenant, lead, v, true)
		if err != nil {
			t.Fatal(err)
		}
		if c.IsMuted {
			t.Error("HOT with auto-close must stay unmuted")
		}
		if len(c.SuggestedReplies) != 0 {
			t.Error("drafts must be cleared with auto-close")
		}
	})
}
