package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// StateTTL bounds the lifetime of an OAuth CSRF state token.
const StateTTL = 30 * time.Minute

// StateEntry binds a state token to the company and provider that initiated
// the authorization flow.
type StateEntry struct {
	CompanyID uint      `json:"company_id"`
	Provider  Provider  `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// StateStore holds short-lived OAuth state tokens. Entries are single-use:
// Take removes the entry, so a replay of the same state always misses.
type StateStore interface {
	Put(ctx context.Context, token string, entry StateEntry) error
	// Take returns the entry and deletes it, or nil when absent/expired.
	Take(ctx context.Context, token string) (*StateEntry, error)
}

// MemoryStateStore keeps state tokens in-process. Correct only for
// single-process deployments; multi-process setups must use the Redis store.
type MemoryStateStore struct {
	mu sync.Mutex
	c  *gocache.Cache
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{c: gocache.New(StateTTL, time.Minute)}
}

func (m *MemoryStateStore) Put(_ context.Context, token string, entry StateEntry) error {
	m.c.Set(token, entry, StateTTL)
	return nil
}

// Take locks around the get-then-delete pair so concurrent callers can
// never both see the same entry. The Redis store gets this from GetDel.
func (m *MemoryStateStore) Take(_ context.Context, token string) (*StateEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.c.Get(token)
	if !ok {
		return nil, nil
	}
	m.c.Delete(token)
	entry, ok := v.(StateEntry)
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// RedisStateStore shares state tokens across process instances.
type RedisStateStore struct {
	rdb *redis.Client
}

func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb}
}

func stateKey(token string) string {
	return "oauth_state:" + token
}

func (r *RedisStateStore) Put(ctx context.Context, token string, entry StateEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode state entry: %w", err)
	}
	return r.rdb.Set(ctx, stateKey(token), data, StateTTL).Err()
}

func (r *RedisStateStore) Take(ctx context.Context, token string) (*StateEntry, error) {
	data, err := r.rdb.GetDel(ctx, stateKey(token)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state entry: %w", err)
	}
	var entry StateEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode state entry: %w", err)
	}
	return &entry, nil
}
