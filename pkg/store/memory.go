package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-training/workspace-mcp/pkg/core"
)

var (
	// ErrCodeNotFound is returned when an authorization code is not found in the store.
	ErrCodeNotFound = errors.New("authorization code not found")
	// ErrCodeConsumed is returned when an authorization code has already been exchanged.
	ErrCodeConsumed = errors.New("authorization code already consumed")
	// ErrCodeExpired is returned when an authorization code is past its expiry.
	ErrCodeExpired = errors.New("authorization code expired")
	// ErrGrantMismatch is returned when the client or redirect URI presented at
	// exchange differs from the values recorded at issuance.
	ErrGrantMismatch = errors.New("authorization code not issued to this client or redirect_uri")
	// ErrDuplicateCode is returned when saving a code that already exists.
	ErrDuplicateCode = errors.New("authorization code already exists")
	// ErrNilAuthorizationGrant is returned when attempting to save a nil grant.
	ErrNilAuthorizationGrant = errors.New("authorization grant cannot be nil")
	// ErrEmptyCode is returned when the authorization code string is empty.
	ErrEmptyCode = errors.New("authorization code string cannot be empty")
	// ErrClientNotFound is returned when a client is not found in the store.
	ErrClientNotFound = errors.New("client not found")
	// ErrClientExists is returned when registering a client ID that is already taken.
	ErrClientExists = errors.New("client already exists")
	// ErrNilClient is returned when attempting to save a nil client.
	ErrNilClient = errors.New("client cannot be nil")
	// ErrEmptyClientID is returned when the client ID string is empty.
	ErrEmptyClientID = errors.New("client ID cannot be empty")
)

// MemoryStore implements the core.Store interface using in-memory maps.
// It provides thread-safe storage for authorization grants and clients.
type MemoryStore struct {
	mu        sync.RWMutex
	grants    map[string]*core.AuthorizationGrant
	clients   map[string]*core.Client
	retention time.Duration
	now       func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithRetention sets how long consumed grants are kept before a sweep removes them.
func WithRetention(d time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		m.retention = d
	}
}

// withClock overrides the clock used for lazy sweeps.
func withClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore creates a new instance of MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		grants:    make(map[string]*core.AuthorizationGrant),
		clients:   make(map[string]*core.Client),
		retention: core.DefaultGrantRetentionWindow,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PutGrant stores an authorization grant in memory.
// Stale grants are swept lazily on every insert so the map stays bounded even
// when the periodic sweeper is not running.
func (m *MemoryStore) PutGrant(ctx context.Context, grant *core.AuthorizationGrant) error {
	if grant == nil {
		return ErrNilAuthorizationGrant
	}
	if grant.Code == "" {
		return ErrEmptyCode
	}
	if grant.ClientID == "" {
		return ErrEmptyClientID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked(m.now())

	if _, exists := m.grants[grant.Code]; exists {
		return ErrDuplicateCode
	}

	stored := *grant
	m.grants[grant.Code] = &stored
	return nil
}

// GetGrant returns a copy of the grant stored under code.
// It returns ErrCodeNotFound if the code does not exist.
func (m *MemoryStore) GetGrant(ctx context.Context, code string) (*core.AuthorizationGrant, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	grant, exists := m.grants[code]
	if !exists {
		return nil, ErrCodeNotFound
	}

	out := *grant
	return &out, nil
}

// ConsumeGrant performs the check-and-flip of the consumed flag under the
// write lock, so only one caller per code can succeed.
func (m *MemoryStore) ConsumeGrant(
	ctx context.Context,
	code, clientID, redirectURI string,
	now time.Time,
) (*core.AuthorizationGrant, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	grant, exists := m.grants[code]
	if !exists {
		return nil, ErrCodeNotFound
	}
	if grant.Consumed {
		return nil, ErrCodeConsumed
	}
	if grant.Expired(now) {
		return nil, ErrCodeExpired
	}
	if grant.ClientID != clientID || grant.RedirectURI != redirectURI {
		return nil, ErrGrantMismatch
	}

	grant.Consumed = true
	grant.ConsumedAt = now

	out := *grant
	return &out, nil
}

// Sweep removes expired grants and consumed grants past the retention window.
func (m *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(now), nil
}

func (m *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for code, grant := range m.grants {
		if grant.Stale(now, m.retention) {
			delete(m.grants, code)
			removed++
		}
	}
	return removed
}

// GetClient retrieves a client from memory by its client ID.
// It returns ErrClientNotFound if the client does not exist.
func (m *MemoryStore) GetClient(ctx context.Context, clientID string) (*core.Client, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil, ErrClientNotFound
	}

	return client, nil
}

// GetClients returns all registered clients ordered by creation time.
func (m *MemoryStore) GetClients(ctx context.Context) ([]*core.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clients := make([]*core.Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].CreatedAt.Before(clients[j].CreatedAt)
	})
	return clients, nil
}

// CreateClient stores a new client in memory.
// Client IDs are immutable once issued, so an existing ID is rejected.
func (m *MemoryStore) CreateClient(ctx context.Context, client *core.Client) error {
	if client == nil {
		return ErrNilClient
	}
	if client.ID == "" {
		return ErrEmptyClientID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[client.ID]; exists {
		return ErrClientExists
	}

	m.clients[client.ID] = client
	return nil
}

// Len returns the number of grants currently held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.grants)
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
