package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-training/workspace-mcp/pkg/core"
)

func newTestGrant(code string, now time.Time) *core.AuthorizationGrant {
	return &core.AuthorizationGrant{
		Code:          code,
		ClientID:      "client_123",
		RedirectURI:   "https://client.example/cb",
		CodeChallenge: "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		UpstreamToken: "un=alice|tokenid=1|sig=abc",
		IssuedAt:      now,
		ExpiresAt:     now.Add(2 * time.Minute),
	}
}

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	if store == nil {
		t.Fatal("NewMemoryStore() returned nil")
	}
	if store.grants == nil {
		t.Error("grants map should be initialized")
	}
	if store.clients == nil {
		t.Error("clients map should be initialized")
	}
	if store.retention != core.DefaultGrantRetentionWindow {
		t.Errorf("retention = %v, want %v", store.retention, core.DefaultGrantRetentionWindow)
	}
}

func TestMemoryStore_PutGrant(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		grant   *core.AuthorizationGrant
		wantErr error
	}{
		{
			name:    "valid grant",
			grant:   newTestGrant("code_1", now),
			wantErr: nil,
		},
		{
			name:    "nil grant",
			grant:   nil,
			wantErr: ErrNilAuthorizationGrant,
		},
		{
			name: "empty code",
			grant: &core.AuthorizationGrant{
				ClientID:  "client_123",
				ExpiresAt: now.Add(time.Minute),
			},
			wantErr: ErrEmptyCode,
		},
		{
			name: "empty client id",
			grant: &core.AuthorizationGrant{
				Code:      "code_2",
				ExpiresAt: now.Add(time.Minute),
			},
			wantErr: ErrEmptyClientID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			err := store.PutGrant(context.Background(), tt.grant)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("PutGrant() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			got, err := store.GetGrant(context.Background(), tt.grant.Code)
			if err != nil {
				t.Fatalf("GetGrant() error = %v", err)
			}
			if got.UpstreamToken != tt.grant.UpstreamToken || got.Consumed {
				t.Errorf("GetGrant() = %+v, want stored copy of %+v", got, tt.grant)
			}
		})
	}
}

func TestMemoryStore_PutGrant_Duplicate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	if err := store.PutGrant(ctx, newTestGrant("dup", now)); err != nil {
		t.Fatalf("first PutGrant() error = %v", err)
	}
	replacement := newTestGrant("dup", now)
	replacement.UpstreamToken = "other"
	if err := store.PutGrant(ctx, replacement); !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("second PutGrant() error = %v, want %v", err, ErrDuplicateCode)
	}

	got, _ := store.GetGrant(ctx, "dup")
	if got.UpstreamToken == "other" {
		t.Error("duplicate PutGrant() must not overwrite the existing grant")
	}
}

func TestMemoryStore_GetGrant_ReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.PutGrant(ctx, newTestGrant("copy", time.Now()))

	got, _ := store.GetGrant(ctx, "copy")
	got.Consumed = true

	again, _ := store.GetGrant(ctx, "copy")
	if again.Consumed {
		t.Error("mutating a returned grant must not change the stored grant")
	}
}

func TestMemoryStore_GetGrant_NotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.GetGrant(context.Background(), "missing"); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("GetGrant() error = %v, want %v", err, ErrCodeNotFound)
	}
	if _, err := store.GetGrant(context.Background(), ""); !errors.Is(err, ErrEmptyCode) {
		t.Errorf("GetGrant(\"\") error = %v, want %v", err, ErrEmptyCode)
	}
}

func TestMemoryStore_ConsumeGrant(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		code        string
		clientID    string
		redirectURI string
		at          time.Time
		wantErr     error
	}{
		{"success", "code", "client_123", "https://client.example/cb", now, nil},
		{"unknown code", "nope", "client_123", "https://client.example/cb", now, ErrCodeNotFound},
		{"wrong client", "code", "client_999", "https://client.example/cb", now, ErrGrantMismatch},
		{"wrong redirect", "code", "client_123", "https://client.example/other", now, ErrGrantMismatch},
		{"at expiry instant", "code", "client_123", "https://client.example/cb", now.Add(2 * time.Minute), ErrCodeExpired},
		{"after expiry", "code", "client_123", "https://client.example/cb", now.Add(3 * time.Minute), ErrCodeExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			ctx := context.Background()
			if err := store.PutGrant(ctx, newTestGrant("code", now)); err != nil {
				t.Fatalf("PutGrant() error = %v", err)
			}

			got, err := store.ConsumeGrant(ctx, tt.code, tt.clientID, tt.redirectURI, tt.at)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ConsumeGrant() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				stored, _ := store.GetGrant(ctx, "code")
				if stored.Consumed {
					t.Error("failed ConsumeGrant() must leave the grant unconsumed")
				}
				return
			}
			if !got.Consumed || !got.ConsumedAt.Equal(tt.at) {
				t.Errorf("ConsumeGrant() = %+v, want consumed at %v", got, tt.at)
			}
			if got.UpstreamToken != "un=alice|tokenid=1|sig=abc" {
				t.Errorf("UpstreamToken = %q", got.UpstreamToken)
			}
		})
	}
}

func TestMemoryStore_ConsumeGrant_Twice(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	_ = store.PutGrant(ctx, newTestGrant("once", now))

	if _, err := store.ConsumeGrant(ctx, "once", "client_123", "https://client.example/cb", now); err != nil {
		t.Fatalf("first ConsumeGrant() error = %v", err)
	}
	_, err := store.ConsumeGrant(ctx, "once", "client_123", "https://client.example/cb", now)
	if !errors.Is(err, ErrCodeConsumed) {
		t.Fatalf("second ConsumeGrant() error = %v, want %v", err, ErrCodeConsumed)
	}
}

func TestMemoryStore_ConsumeGrant_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	_ = store.PutGrant(ctx, newTestGrant("race", now))

	const workers = 64
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		consumed  atomic.Int32
		start     = make(chan struct{})
	)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.ConsumeGrant(ctx, "race", "client_123", "https://client.example/cb", now)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrCodeConsumed):
				consumed.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("successes = %d, want exactly 1", successes.Load())
	}
	if consumed.Load() != workers-1 {
		t.Errorf("consumed errors = %d, want %d", consumed.Load(), workers-1)
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(WithRetention(5*time.Minute), withClock(func() time.Time { return now }))
	ctx := context.Background()

	live := newTestGrant("live", now)
	expired := newTestGrant("expired", now.Add(-10*time.Minute))
	recent := newTestGrant("recent", now)
	old := newTestGrant("old", now)

	for _, g := range []*core.AuthorizationGrant{live, recent, old} {
		if err := store.PutGrant(ctx, g); err != nil {
			t.Fatalf("PutGrant(%s) error = %v", g.Code, err)
		}
	}
	store.grants[expired.Code] = expired

	if _, err := store.ConsumeGrant(ctx, "recent", "client_123", "https://client.example/cb", now); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ConsumeGrant(ctx, "old", "client_123", "https://client.example/cb", now.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	// "old" was consumed six minutes before the sweep; "recent" only one.
	removed, err := store.Sweep(ctx, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	// live expired at now+2m, so at now+5m it is stale as well.
	if removed != 3 {
		t.Errorf("Sweep() removed %d, want 3", removed)
	}
	if _, err := store.GetGrant(ctx, "recent"); err != nil {
		t.Errorf("recently consumed grant should survive the sweep: %v", err)
	}
	for _, code := range []string{"live", "expired", "old"} {
		if _, err := store.GetGrant(ctx, code); !errors.Is(err, ErrCodeNotFound) {
			t.Errorf("GetGrant(%s) error = %v, want %v", code, err, ErrCodeNotFound)
		}
	}
}

func TestMemoryStore_PutGrant_LazySweep(t *testing.T) {
	now := time.Now()
	clock := now
	store := NewMemoryStore(withClock(func() time.Time { return clock }))
	ctx := context.Background()

	_ = store.PutGrant(ctx, newTestGrant("first", now))
	clock = now.Add(3 * time.Minute)
	_ = store.PutGrant(ctx, newTestGrant("second", clock))

	if _, ok := store.grants["first"]; ok {
		t.Error("expired grant should be removed on the next insert")
	}
	if len(store.grants) != 1 {
		t.Errorf("len(grants) = %d, want 1", len(store.grants))
	}
}

func TestMemoryStore_Clients(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i := range 3 {
		client := &core.Client{
			ID:              fmt.Sprintf("client_%d", i),
			RedirectURIs:    []string{"https://client.example/cb"},
			TokenAuthMethod: core.AuthMethodNone,
			CreatedAt:       base.Add(time.Duration(2-i) * time.Second),
		}
		if err := store.CreateClient(ctx, client); err != nil {
			t.Fatalf("CreateClient() error = %v", err)
		}
	}

	if err := store.CreateClient(ctx, &core.Client{ID: "client_0"}); !errors.Is(err, ErrClientExists) {
		t.Errorf("CreateClient(existing) error = %v, want %v", err, ErrClientExists)
	}
	if err := store.CreateClient(ctx, nil); !errors.Is(err, ErrNilClient) {
		t.Errorf("CreateClient(nil) error = %v, want %v", err, ErrNilClient)
	}
	if err := store.CreateClient(ctx, &core.Client{}); !errors.Is(err, ErrEmptyClientID) {
		t.Errorf("CreateClient(empty id) error = %v, want %v", err, ErrEmptyClientID)
	}

	got, err := store.GetClient(ctx, "client_1")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if !got.HasRedirectURI("https://client.example/cb") {
		t.Errorf("GetClient() = %+v", got)
	}
	if _, err := store.GetClient(ctx, "unknown"); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("GetClient(unknown) error = %v, want %v", err, ErrClientNotFound)
	}

	clients, err := store.GetClients(ctx)
	if err != nil {
		t.Fatalf("GetClients() error = %v", err)
	}
	want := []string{"client_2", "client_1", "client_0"}
	if len(clients) != len(want) {
		t.Fatalf("GetClients() returned %d clients, want %d", len(clients), len(want))
	}
	for i, id := range want {
		if clients[i].ID != id {
			t.Errorf("clients[%d] = %s, want %s", i, clients[i].ID, id)
		}
	}
}
