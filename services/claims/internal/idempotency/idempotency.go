package idempotency

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type ActorContext struct {
	Identity       string
	IdempotencyKey string
}

type Store interface {
	GetIdempotencyRecord(ctx context.Context, identity, idempotencyKey, endpoint string) (int, json.RawMessage, bool, error)
	SaveIdempotencyRecord(ctx context.Context, identity, idempotencyKey, endpoint string, responseStatus int, responseBody json.RawMessage) error
}

func Replay(ctx context.Context, st Store, actor ActorContext, endpoint string) (int, json.RawMessage, bool, error) {
	if actor.IdempotencyKey == "" {
		return 0, nil, false, nil
	}
	status, body, found, err := st.GetIdempotencyRecord(ctx, actor.Identity, actor.IdempotencyKey, endpoint)
	if err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, nil, false, nil
	}
	return status, body, true, nil
}

func Save(ctx context.Context, st Store, actor ActorContext, endpoint string, status int, response any) error {
	if actor.IdempotencyKey == "" {
		return nil
	}
	b, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return st.SaveIdempotencyRecord(ctx, actor.Identity, actor.IdempotencyKey, endpoint, status, b)
}

type record struct {
	status int
	body   json.RawMessage
}

// MemoryStore keeps records in process for ttl. The first save for a key wins.
type MemoryStore struct{ cache *gocache.Cache }

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{cache: gocache.New(ttl, ttl/4)}
}

func memKey(identity, key, endpoint string) string {
	return strings.Join([]string{identity, key, endpoint}, "\x00")
}

func (m *MemoryStore) GetIdempotencyRecord(_ context.Context, identity, idempotencyKey, endpoint string) (int, json.RawMessage, bool, error) {
	v, ok := m.cache.Get(memKey(identity, idempotencyKey, endpoint))
	if !ok {
		return 0, nil, false, nil
	}
	rec := v.(record)
	return rec.status, rec.body, true, nil
}

func (m *MemoryStore) SaveIdempotencyRecord(_ context.Context, identity, idempotencyKey, endpoint string, responseStatus int, responseBody json.RawMessage) error {
	// Add fails when the key exists, matching ON CONFLICT DO NOTHING.
	_ = m.cache.Add(memKey(identity, idempotencyKey, endpoint), record{status: responseStatus, body: responseBody}, gocache.DefaultExpiration)
	return nil
}
