package store

import (
	"context"
	"sync"
	"time"

	"github.com/leadline-io/leadline/internal/identity"
	"github.com/leadline-io/leadline/internal/wire"
)

// NewMemoryStores returns a Stores backed entirely by process memory.
// Used by tests and `leadline serve --dev`.
func NewMemoryStores() *Stores {
	return &Stores{
		Tenants:       &memTenants{tenants: map[string]*Tenant{}},
		Conversations: NewMemoryConversationStore(),
		Credentials:   &memCredentials{creds: map[string]*wire.Credentials{}},
		EventLog:      &memEventLog{},
	}
}

type memTenants struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
}

func (s *memTenants) GetTenant(_ context.Context, id string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memTenants) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[id]; ok {
		t.Active = active
	}
	return nil
}

// PutTenant seeds a tenant record. Memory backend only; used by tests and
// dev bootstrap.
func (s *memTenants) PutTenant(t *Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tenants[t.ID] = &cp
}

// SeedTenant inserts a tenant into a memory-backed Stores. Panics when the
// backend is not the memory one.
func (st *Stores) SeedTenant(t *Tenant) {
	st.Tenants.(*memTenants).PutTenant(t)
}

// MemoryConversationStore is the in-memory ConversationStore.
type MemoryConversationStore struct {
	mu    sync.RWMutex
	convs map[string]map[identity.Canonical]*Conversation
}

func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{convs: map[string]map[identity.Canonical]*Conversation{}}
}

func (s *MemoryConversationStore) Get(_ context.Context, tenantID string, id identity.Canonical) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[tenantID][id]
	if !ok {
		return nil, nil
	}
	return cloneConversation(c), nil
}

func (s *MemoryConversationStore) Save(_ context.Context, tenantID string, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveLocked(tenantID, c)
	return nil
}

func (s *MemoryConversationStore) SaveBatch(_ context.Context, tenantID string, cs []*Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cs {
		s.saveLocked(tenantID, c)
	}
	return nil
}

func (s *MemoryConversationStore) saveLocked(tenantID string, c *Conversation) {
	if s.convs[tenantID] == nil {
		s.convs[tenantID] = map[identity.Canonical]*Conversation{}
	}
	s.convs[tenantID][c.ID] = cloneConversation(c)
}

func (s *MemoryConversationStore) List(_ context.Context, tenantID string) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conversation, 0, len(s.convs[tenantID]))
	for _, c := range s.convs[tenantID] {
		out = append(out, cloneConversation(c))
	}
	return out, nil
}

// cloneConversation deep-copies an aggregate so callers never share slices
// with the store.
func cloneConversation(c *Conversation) *Conversation {
	cp := *c
	cp.Messages = append([]Message(nil), c.Messages...)
	cp.Tags = append([]string(nil), c.Tags...)
	cp.SuggestedReplies = append([]string(nil), c.SuggestedReplies...)
	return &cp
}

type memCredentials struct {
	mu    sync.RWMutex
	creds map[string]*wire.Credentials
}

func (s *memCredentials) Load(_ context.Context, tenantID string) (*wire.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *memCredentials) Save(_ context.Context, tenantID string, creds *wire.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *creds
	s.creds[tenantID] = &cp
	return nil
}

func (s *memCredentials) Purge(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, tenantID)
	return nil
}

type memEventLog struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	tenantID string
	kind     string
	detail   string
	at       time.Time
}

func (s *memEventLog) AppendLog(_ context.Context, tenantID, kind, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, logEntry{tenantID, kind, detail, time.Now()})
	return nil
}
