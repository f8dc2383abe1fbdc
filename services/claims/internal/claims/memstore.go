package claims

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps engine state in process memory. Update collects writes
// in a per-transaction overlay and applies them only when fn succeeds, so a
// write costs what it touches rather than the size of the store.
//
// Writers are serialized by write for the whole of fn. The committed state
// only changes inside apply, under mu, so View is blocked for the apply and
// not for the time fn spends waiting on a Transferer.
type MemoryStore struct {
	write sync.Mutex
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	params  *ParameterSet
	balance Amount
	claims  map[ClaimKey]Claim
	order   []ClaimKey
	rosters map[Roster]map[Identity]struct{}
	events  []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		claims: map[ClaimKey]Claim{},
		rosters: map[Roster]map[Identity]struct{}{
			RosterWhitelist:  {},
			RosterBlacklist:  {},
			RosterValidators: {},
		},
	}}
}

// memWrites is the uncommitted part of a unit of work.
type memWrites struct {
	params  *ParameterSet
	balance *Amount
	claims  map[ClaimKey]Claim
	order   []ClaimKey
	members map[Roster]map[Identity]bool
	events  []Event
}

func (w *memWrites) apply(st *memState) {
	if w.params != nil {
		st.params = w.params
	}
	if w.balance != nil {
		st.balance = *w.balance
	}
	for k, c := range w.claims {
		st.claims[k] = c
	}
	st.order = append(st.order, w.order...)
	for r, changes := range w.members {
		for id, present := range changes {
			if present {
				st.rosters[r][id] = struct{}{}
			} else {
				delete(st.rosters[r], id)
			}
		}
	}
	st.events = append(st.events, w.events...)
}

type memStoreKey struct{}

func (s *MemoryStore) nested(ctx context.Context) bool {
	owner, _ := ctx.Value(memStoreKey{}).(*MemoryStore)
	return owner == s
}

func (s *MemoryStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if s.nested(ctx) {
		// The calling goroutine chain holds the writer lock and state is
		// untouched until that Update commits.
		return fn(ctx, &memTx{st: s.state})
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx, &memTx{st: s.state})
}

func (s *MemoryStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if s.nested(ctx) {
		return fmt.Errorf("%w: nested write on memory store", ErrReentrancy)
	}
	s.write.Lock()
	defer s.write.Unlock()

	w := &memWrites{claims: map[ClaimKey]Claim{}, members: map[Roster]map[Identity]bool{}}
	if err := fn(context.WithValue(ctx, memStoreKey{}, s), &memTx{st: s.state, w: w}); err != nil {
		return err
	}
	s.mu.Lock()
	w.apply(s.state)
	s.mu.Unlock()
	return nil
}

// memTx reads through its overlay to the committed state. A nil overlay
// makes it read-only.
type memTx struct {
	st *memState
	w  *memWrites
}

func (t *memTx) writable() error {
	if t.w == nil {
		return fmt.Errorf("write in read-only transaction")
	}
	return nil
}

func (t *memTx) Parameters(ctx context.Context) (ParameterSet, error) {
	p := t.st.params
	if t.w != nil && t.w.params != nil {
		p = t.w.params
	}
	if p == nil {
		return ParameterSet{}, ErrNotInitialized
	}
	return *p, nil
}

func (t *memTx) SaveParameters(ctx context.Context, p ParameterSet) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.w.params = &p
	return nil
}

func (t *memTx) Balance(ctx context.Context) (Amount, error) {
	if t.w != nil && t.w.balance != nil {
		return *t.w.balance, nil
	}
	return t.st.balance, nil
}

func (t *memTx) SaveBalance(ctx context.Context, balance Amount) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.w.balance = &balance
	return nil
}

func (t *memTx) lookup(key ClaimKey) (Claim, bool) {
	if t.w != nil {
		if c, ok := t.w.claims[key]; ok {
			return c, true
		}
	}
	c, ok := t.st.claims[key]
	return c, ok
}

// each visits claims in submission order.
func (t *memTx) each(fn func(Claim)) {
	for _, k := range t.st.order {
		c, _ := t.lookup(k)
		fn(c)
	}
	if t.w != nil {
		for _, k := range t.w.order {
			fn(t.w.claims[k])
		}
	}
}

func (t *memTx) Claim(ctx context.Context, key ClaimKey) (Claim, error) {
	c, ok := t.lookup(key)
	if !ok {
		return Claim{}, fmt.Errorf("%w: claim %s", ErrNotFound, key)
	}
	return c, nil
}

func (t *memTx) ClaimsByOwner(ctx context.Context, owner Identity) ([]Claim, error) {
	out := []Claim{}
	t.each(func(c Claim) {
		if c.Owner == owner {
			out = append(out, c)
		}
	})
	return out, nil
}

func (t *memTx) OutstandingClaims(ctx context.Context) ([]Claim, error) {
	out := []Claim{}
	t.each(func(c Claim) {
		if c.Verified && c.State != StatePaid {
			out = append(out, c)
		}
	})
	return out, nil
}

func (t *memTx) InsertClaim(ctx context.Context, c Claim) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.lookup(c.Key()); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateClaim, c.Key())
	}
	t.w.claims[c.Key()] = c
	t.w.order = append(t.w.order, c.Key())
	return nil
}

func (t *memTx) SaveClaim(ctx context.Context, c Claim) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.lookup(c.Key()); !ok {
		return fmt.Errorf("%w: claim %s", ErrNotFound, c.Key())
	}
	t.w.claims[c.Key()] = c
	return nil
}

func (t *memTx) IsMember(ctx context.Context, roster Roster, id Identity) (bool, error) {
	if t.w != nil {
		if present, ok := t.w.members[roster][id]; ok {
			return present, nil
		}
	}
	_, ok := t.st.rosters[roster][id]
	return ok, nil
}

func (t *memTx) Members(ctx context.Context, roster Roster) ([]Identity, error) {
	set := make(map[Identity]struct{}, len(t.st.rosters[roster]))
	for id := range t.st.rosters[roster] {
		set[id] = struct{}{}
	}
	if t.w != nil {
		for id, present := range t.w.members[roster] {
			if present {
				set[id] = struct{}{}
			} else {
				delete(set, id)
			}
		}
	}
	out := make([]Identity, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *memTx) setMember(roster Roster, id Identity, present bool) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	if _, ok := t.st.rosters[roster]; !ok {
		return false, fmt.Errorf("%w: unknown roster %q", ErrInvalidParameter, roster)
	}
	was, _ := t.IsMember(context.Background(), roster, id)
	if was == present {
		return false, nil
	}
	if t.w.members[roster] == nil {
		t.w.members[roster] = map[Identity]bool{}
	}
	t.w.members[roster][id] = present
	return true, nil
}

func (t *memTx) AddMember(ctx context.Context, roster Roster, id Identity) (bool, error) {
	return t.setMember(roster, id, true)
}

func (t *memTx) RemoveMember(ctx context.Context, roster Roster, id Identity) (bool, error) {
	return t.setMember(roster, id, false)
}

func (t *memTx) LastEvent(ctx context.Context) (*Event, error) {
	var ev Event
	switch {
	case t.w != nil && len(t.w.events) > 0:
		ev = t.w.events[len(t.w.events)-1]
	case len(t.st.events) > 0:
		ev = t.st.events[len(t.st.events)-1]
	default:
		return nil, nil
	}
	return &ev, nil
}

func (t *memTx) AppendEvent(ctx context.Context, ev Event) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.w.events = append(t.w.events, ev)
	return nil
}

// Events relies on the log being ordered by seq to skip straight past AfterSeq.
func (t *memTx) Events(ctx context.Context, filter EventFilter) ([]Event, error) {
	out := []Event{}
	logs := [][]Event{t.st.events}
	if t.w != nil {
		logs = append(logs, t.w.events)
	}
	for _, log := range logs {
		start := sort.Search(len(log), func(i int) bool { return log[i].Seq > filter.AfterSeq })
		for _, ev := range log[start:] {
			if !filter.Match(ev) {
				continue
			}
			out = append(out, ev)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}
