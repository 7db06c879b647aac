package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-training/workspace-mcp/pkg/core"
	"github.com/redis/rueidis"
)

const (
	// Key prefixes for Redis storage
	grantPrefix  = "grant:"
	clientPrefix = "client:"
	clientIndex  = "clients"
)

// consumeScript atomically checks and flips the consumed flag of a grant.
// KEYS[1] grant key; ARGV: client_id, redirect_uri, now (unix ms), now (RFC 3339).
// Returns {status, original JSON}.
var consumeScript = rueidis.NewLuaScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return {'missing', ''}
end
local g = cjson.decode(raw)
if g.consumed then
  return {'consumed', ''}
end
if tonumber(ARGV[3]) >= tonumber(g.expires_at_ms) then
  return {'expired', ''}
end
if g.client_id ~= ARGV[1] or g.redirect_uri ~= ARGV[2] then
  return {'mismatch', ''}
end
g.consumed = true
g.consumed_at = ARGV[4]
redis.call('SET', KEYS[1], cjson.encode(g), 'KEEPTTL')
return {'ok', raw}
`)

// redisGrant is the stored form of a grant; the numeric expiry lets the
// consume script compare times without parsing RFC 3339.
type redisGrant struct {
	core.AuthorizationGrant
	ExpiresAtMs int64 `json:"expires_at_ms"`
}

// RedisStore implements the core.Store interface using Redis via rueidis.
// Grants are shared by every bridge instance pointed at the same Redis.
type RedisStore struct {
	client    rueidis.Client
	retention time.Duration
}

// NewRedisStore creates a new instance of RedisStore with the provided rueidis client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{
		client:    client,
		retention: core.DefaultGrantRetentionWindow,
	}
}

// RedisOptions contains configuration for Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStoreFromOptions creates a new RedisStore with simplified options.
func NewRedisStoreFromOptions(opts RedisOptions) (*RedisStore, error) {
	clientOpts := rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	}
	return NewRedisStoreFromClientOption(clientOpts)
}

// NewRedisStoreFromClientOption creates a new RedisStore with full rueidis client options.
func NewRedisStoreFromClientOption(opts rueidis.ClientOption) (*RedisStore, error) {
	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// Close closes the Redis client connection.
func (r *RedisStore) Close() error {
	r.client.Close()
	return nil
}

// Ping checks connectivity to Redis.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Do(ctx, r.client.B().Ping().Build()).Error()
}

// PutGrant stores a grant with SET NX so an existing code is never overwritten.
// The key lives until the grant expires plus the consumed retention window.
func (r *RedisStore) PutGrant(ctx context.Context, grant *core.AuthorizationGrant) error {
	if grant == nil {
		return ErrNilAuthorizationGrant
	}
	if grant.Code == "" {
		return ErrEmptyCode
	}
	if grant.ClientID == "" {
		return ErrEmptyClientID
	}

	ttl := time.Until(grant.ExpiresAt)
	if ttl <= 0 {
		return ErrCodeExpired
	}
	ttl += r.retention

	data, err := json.Marshal(redisGrant{
		AuthorizationGrant: *grant,
		ExpiresAtMs:        grant.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal authorization grant: %w", err)
	}

	key := grantPrefix + grant.Code
	cmd := r.client.B().Set().Key(key).Value(string(data)).Nx().PxMilliseconds(ttl.Milliseconds()).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to save authorization grant to redis: %w", err)
	}

	return nil
}

// GetGrant retrieves a grant by code without modifying it.
func (r *RedisStore) GetGrant(ctx context.Context, code string) (*core.AuthorizationGrant, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}

	cmd := r.client.B().Get().Key(grantPrefix + code).Build()
	result, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization grant from redis: %w", err)
	}

	return decodeGrant(result)
}

// ConsumeGrant runs the consume script so the check and the flip happen in
// a single Redis round trip.
func (r *RedisStore) ConsumeGrant(
	ctx context.Context,
	code, clientID, redirectURI string,
	now time.Time,
) (*core.AuthorizationGrant, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}

	args := []string{
		clientID,
		redirectURI,
		fmt.Sprintf("%d", now.UnixMilli()),
		now.UTC().Format(time.RFC3339Nano),
	}
	reply, err := consumeScript.Exec(ctx, r.client, []string{grantPrefix + code}, args).ToArray()
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization grant: %w", err)
	}
	if len(reply) != 2 {
		return nil, fmt.Errorf("unexpected consume reply length %d", len(reply))
	}

	status, err := reply[0].ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to read consume status: %w", err)
	}

	switch status {
	case "ok":
	case "missing":
		return nil, ErrCodeNotFound
	case "consumed":
		return nil, ErrCodeConsumed
	case "expired":
		return nil, ErrCodeExpired
	case "mismatch":
		return nil, ErrGrantMismatch
	default:
		return nil, fmt.Errorf("unexpected consume status %q", status)
	}

	raw, err := reply[1].ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to read consumed grant: %w", err)
	}
	grant, err := decodeGrant(raw)
	if err != nil {
		return nil, err
	}
	grant.Consumed = true
	grant.ConsumedAt = now
	return grant, nil
}

// Sweep is a no-op: Redis expires grant keys on its own.
func (r *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func decodeGrant(raw string) (*core.AuthorizationGrant, error) {
	var stored redisGrant
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization grant: %w", err)
	}
	grant := stored.AuthorizationGrant
	return &grant, nil
}

// GetClient retrieves a client from Redis by its client ID.
// It returns ErrClientNotFound if the client does not exist.
// Uses client-side caching with 60 second TTL since clients never change.
func (r *RedisStore) GetClient(ctx context.Context, clientID string) (*core.Client, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}

	key := clientPrefix + clientID
	cmd := r.client.B().Get().Key(key).Cache()
	result, err := r.client.DoCache(ctx, cmd, 60*time.Second).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client from redis: %w", err)
	}

	var client core.Client
	if err := json.Unmarshal([]byte(result), &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	return &client, nil
}

// GetClients returns every registered client listed in the client index.
func (r *RedisStore) GetClients(ctx context.Context) ([]*core.Client, error) {
	ids, err := r.client.Do(ctx, r.client.B().Smembers().Key(clientIndex).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list clients from redis: %w", err)
	}
	if len(ids) == 0 {
		return []*core.Client{}, nil
	}

	// Client keys hash to different slots, so each one gets its own GET.
	cmds := make(rueidis.Commands, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, r.client.B().Get().Key(clientPrefix+id).Build())
	}
	values := r.client.DoMulti(ctx, cmds...)

	clients := make([]*core.Client, 0, len(values))
	for _, v := range values {
		raw, err := v.ToString()
		if err != nil {
			if rueidis.IsRedisNil(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read client: %w", err)
		}
		var client core.Client
		if err := json.Unmarshal([]byte(raw), &client); err != nil {
			return nil, fmt.Errorf("failed to unmarshal client: %w", err)
		}
		clients = append(clients, &client)
	}
	return clients, nil
}

// CreateClient stores a new client in Redis and adds it to the client index.
// Clients do not expire.
func (r *RedisStore) CreateClient(ctx context.Context, client *core.Client) error {
	if client == nil {
		return ErrNilClient
	}
	if client.ID == "" {
		return ErrEmptyClientID
	}

	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := clientPrefix + client.ID
	cmd := r.client.B().Set().Key(key).Value(string(data)).Nx().Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return ErrClientExists
		}
		return fmt.Errorf("failed to create client in redis: %w", err)
	}

	index := r.client.B().Sadd().Key(clientIndex).Member(client.ID).Build()
	if err := r.client.Do(ctx, index).Error(); err != nil {
		return fmt.Errorf("failed to index client in redis: %w", err)
	}

	return nil
}

var _ core.Store = (*RedisStore)(nil)
var _ core.Store = (*MemoryStore)(nil)
