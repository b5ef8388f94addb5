package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"worksuite.app/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps accounts and magic links in process memory. It backs the
// development mode of cmd/api and the package tests.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	byEmail  map[string]string
	links    map[string]*MagicLink
	byHash   map[string]string
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
		links:    make(map[string]*MagicLink),
		byHash:   make(map[string]string),
		now:      time.Now,
	}
}

func (s *MemoryStore) Accounts(context.Context) AccountStore     { return memAccounts{s} }
func (s *MemoryStore) MagicLinks(context.Context) MagicLinkStore { return memLinks{s} }

// LinkCount returns the number of magic links ever created.
func (s *MemoryStore) LinkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

type memAccounts struct{ s *MemoryStore }

func (m memAccounts) Create(_ context.Context, a *Account) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a.Email = normalizeEmail(a.Email)
	if _, ok := m.s.byEmail[a.Email]; ok {
		return ErrConflict
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.s.now().UTC()
	}
	cp := *a
	m.s.accounts[a.ID] = &cp
	m.s.byEmail[a.Email] = a.ID
	return nil
}

func (m memAccounts) Find(_ context.Context, id string) (*Account, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m memAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	m.s.mu.Lock()
	id, ok := m.s.byEmail[normalizeEmail(email)]
	m.s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.Find(ctx, id)
}

func (m memAccounts) List(context.Context) ([]*Account, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := make([]*Account, 0, len(m.s.accounts))
	for _, a := range m.s.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memAccounts) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	a.LastLogin = &at
	return nil
}

func (m memAccounts) SetActive(_ context.Context, id string, active bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Active = active
	return nil
}

type memLinks struct{ s *MemoryStore }

func (m memLinks) Create(_ context.Context, link *MagicLink) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.byHash[link.TokenHash]; ok {
		return ErrConflict
	}
	if link.ID == "" {
		link.ID = ids.New()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = m.s.now().UTC()
	}
	cp := *link
	m.s.links[link.ID] = &cp
	m.s.byHash[link.TokenHash] = link.ID
	return nil
}

func (m memLinks) FindByToken(_ context.Context, rawToken string) (*MagicLink, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	id, ok := m.s.byHash[hashToken(rawToken)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.s.links[id]
	return &cp, nil
}

func (m memLinks) MarkUsed(_ context.Context, id string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	link, ok := m.s.links[id]
	if !ok {
		return false, ErrNotFound
	}
	if link.Used {
		return false, nil
	}
	link.Used = true
	return true, nil
}
