package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	status int
	body   json.RawMessage
	found  bool
	getErr error
	saveN  int
}

func (f *fakeStore) GetIdempotencyRecord(ctx context.Context, identity, idempotencyKey, endpoint string) (int, json.RawMessage, bool, error) {
	if f.getErr != nil {
		return 0, nil, false, f.getErr
	}
	return f.status, f.body, f.found, nil
}

func (f *fakeStore) SaveIdempotencyRecord(ctx context.Context, identity, idempotencyKey, endpoint string, responseStatus int, responseBody json.RawMessage) error {
	f.status = responseStatus
	f.body = responseBody
	f.found = true
	f.saveN++
	return nil
}

func TestReplayNoKeyNoop(t *testing.T) {
	st := &fakeStore{found: true}
	_, _, replayed, err := Replay(context.Background(), st, ActorContext{Identity: "alice"}, "POST /claims/v1/claims")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if replayed {
		t.Fatalf("expected replayed=false without key")
	}
	if err := Save(context.Background(), st, ActorContext{Identity: "alice"}, "POST /claims/v1/claims", 201, map[string]any{}); err != nil {
		t.Fatalf("save err: %v", err)
	}
	if st.saveN != 0 {
		t.Fatalf("expected no save without key")
	}
}

func TestSaveThenReplayReturnsSamePayload(t *testing.T) {
	st := &fakeStore{}
	actor := ActorContext{Identity: "alice", IdempotencyKey: "k1"}
	resp := map[string]any{"claim_id": "c-1", "state": "SUBMITTED"}

	if err := Save(context.Background(), st, actor, "POST /claims/v1/claims", 201, resp); err != nil {
		t.Fatalf("save err: %v", err)
	}
	status, body, replayed, err := Replay(context.Background(), st, actor, "POST /claims/v1/claims")
	if err != nil {
		t.Fatalf("replay err: %v", err)
	}
	if !replayed || status != 201 {
		t.Fatalf("expected replayed 201, got %v %d", replayed, status)
	}
	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got["claim_id"] != "c-1" || got["state"] != "SUBMITTED" {
		t.Fatalf("unexpected replay body: %+v", got)
	}
}

func TestReplayStoreError(t *testing.T) {
	st := &fakeStore{getErr: errors.New("db down")}
	_, _, replayed, err := Replay(context.Background(), st, ActorContext{Identity: "alice", IdempotencyKey: "k1"}, "POST /claims/v1/claims")
	if replayed {
		t.Fatalf("expected replayed=false on error")
	}
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestMemoryStoreFirstSaveWins(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(time.Hour)
	actor := ActorContext{Identity: "alice", IdempotencyKey: "k1"}

	if err := Save(ctx, st, actor, "POST /claims/v1/payouts", 200, map[string]string{"n": "first"}); err != nil {
		t.Fatalf("save err: %v", err)
	}
	if err := Save(ctx, st, actor, "POST /claims/v1/payouts", 409, map[string]string{"n": "second"}); err != nil {
		t.Fatalf("save err: %v", err)
	}
	status, body, replayed, err := Replay(ctx, st, actor, "POST /claims/v1/payouts")
	if err != nil || !replayed {
		t.Fatalf("expected replay, err=%v", err)
	}
	if status != 200 || string(body) != `{"n":"first"}` {
		t.Fatalf("unexpected record %d %s", status, body)
	}

	_, _, replayed, _ = Replay(ctx, st, ActorContext{Identity: "bob", IdempotencyKey: "k1"}, "POST /claims/v1/payouts")
	if replayed {
		t.Fatalf("keys must be scoped per identity")
	}
	_, _, replayed, _ = Replay(ctx, st, actor, "POST /claims/v1/claims")
	if replayed {
		t.Fatalf("keys must be scoped per endpoint")
	}
}
