package messenger

import (
	"context"
	"fmt"
	"sync"
)

// Handle wraps the live protocol client for one account. It is registered in
// the registry before the client is attached so that events firing during
// construction can already find it.
type Handle struct {
	AccountID int64

	mu  sync.RWMutex
	cli ProtocolClient
}

// Client returns the attached protocol client, or nil while construction is
// still in flight.
func (h *Handle) Client() ProtocolClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cli
}

func (h *Handle) attach(cli ProtocolClient) {
	h.mu.Lock()
	h.cli = cli
	h.mu.Unlock()
}

// Registry owns all live connection handles, keyed by account id. Handles are
// never persisted and are destroyed on every close event regardless of cause.
// Creation for a given account is mutually exclusive: a second GetOrCreate
// while creation is in flight waits for and reuses the first result instead
// of opening two protocol clients for the same identity.
type Registry struct {
	factory ClientFactory
	store   SessionStore
	sink    EventSink

	mu       sync.RWMutex
	handles  map[int64]*Handle
	creation map[int64]*sync.Mutex
}

func NewRegistry(factory ClientFactory, store SessionStore, sink EventSink) *Registry {
	return &Registry{
		factory:  factory,
		store:    store,
		sink:     sink,
		handles:  make(map[int64]*Handle),
		creation: make(map[int64]*sync.Mutex),
	}
}

// Get returns the live handle for the account, or nil.
func (r *Registry) Get(accountID int64) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[accountID]
}

// GetOrCreate returns the existing handle or builds one from the store's
// current credential. The new handle is registered before the factory wires
// any events.
func (r *Registry) GetOrCreate(ctx context.Context, accountID int64) (*Handle, error) {
	lock := r.creationLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	if h := r.Get(accountID); h != nil && h.Client() != nil {
		return h, nil
	}

	rec, err := r.store.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	creds := DecodeCredentials(rec.Credentials)

	h := &Handle{AccountID: accountID}
	r.mu.Lock()
	r.handles[accountID] = h
	r.mu.Unlock()

	// Events are only forwarded while this handle is still the registered
	// one; a discarded client that keeps emitting cannot corrupt the state
	// of its successor.
	sink := func(id int64, evt Event) {
		if r.Get(id) != h {
			return
		}
		r.sink(id, evt)
	}
	cli, err := r.factory.New(ctx, accountID, creds, sink)
	if err != nil {
		r.Evict(accountID)
		return nil, fmt.Errorf("create client for account %d: %w", accountID, err)
	}
	h.attach(cli)
	return h, nil
}

// Evict removes the handle without touching the store; status changes are the
// lifecycle controller's responsibility. Returns whether a handle existed.
func (r *Registry) Evict(accountID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[accountID]
	delete(r.handles, accountID)
	return ok
}

// Len reports the number of registered handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Range calls f for every registered handle.
func (r *Registry) Range(f func(accountID int64, h *Handle)) {
	r.mu.RLock()
	snapshot := make(map[int64]*Handle, len(r.handles))
	for id, h := range r.handles {
		snapshot[id] = h
	}
	r.mu.RUnlock()
	for id, h := range snapshot {
		f(id, h)
	}
}

func (r *Registry) creationLock(accountID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.creation[accountID]
	if !ok {
		lock = &sync.Mutex{}
		r.creation[accountID] = lock
	}
	return lock
}
