package messenger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memStore is an in-memory SessionStore for tests that do not need gorm.
type memStore struct {
	mu   sync.Mutex
	recs map[int64]*SessionRecord
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[int64]*SessionRecord)}
}

func (s *memStore) put(rec *SessionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recs[rec.ID] = &cp
}

func (s *memStore) Load(ctx context.Context, accountID int64) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) Save(ctx context.Context, accountID int64, upd SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.Credentials != nil {
		rec.Credentials = *upd.Credentials
	}
	if upd.PairingQR != nil {
		rec.PairingQR = *upd.PairingQR
	}
	if upd.LastConnectedAt != nil {
		rec.LastConnectedAt = upd.LastConnectedAt
	}
	if upd.LastDisconnectedAt != nil {
		rec.LastDisconnectedAt = upd.LastDisconnectedAt
	}
	return nil
}

// fakeClient is a scriptable ProtocolClient.
type fakeClient struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	sendErr     error
	receipt     SendReceipt
	connects    int
	disconnects int
	logouts     int
	sentDests   []string
	sentTexts   []string
}

func (f *fakeClient) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeClient) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func (f *fakeClient) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Send(ctx context.Context, dest, text string) (SendReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return SendReceipt{}, f.sendErr
	}
	f.sentDests = append(f.sentDests, dest)
	f.sentTexts = append(f.sentTexts, text)
	if f.receipt.ID == "" {
		return SendReceipt{ID: "MSG1", Timestamp: time.Now()}, nil
	}
	return f.receipt, nil
}

func (f *fakeClient) counts() (connects, disconnects, logouts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, f.logouts
}

// fakeFactory hands out fakeClients and captures the wired sinks so tests can
// inject lifecycle events the way a real client would.
type fakeFactory struct {
	mu      sync.Mutex
	newErr  error
	onNew   func(accountID int64)
	clients map[int64][]*fakeClient
	sinks   map[int64]EventSink
	creds   map[int64]*Credentials
	calls   int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		clients: make(map[int64][]*fakeClient),
		sinks:   make(map[int64]EventSink),
		creds:   make(map[int64]*Credentials),
	}
}

func (f *fakeFactory) New(ctx context.Context, accountID int64, creds *Credentials, sink EventSink) (ProtocolClient, error) {
	f.mu.Lock()
	f.calls++
	onNew := f.onNew
	f.mu.Unlock()
	if onNew != nil {
		onNew(accountID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	cli := &fakeClient{}
	f.clients[accountID] = append(f.clients[accountID], cli)
	f.sinks[accountID] = sink
	f.creds[accountID] = creds
	return cli, nil
}

func (f *fakeFactory) lastClient(accountID int64) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := f.clients[accountID]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

func (f *fakeFactory) emit(accountID int64, evt Event) error {
	f.mu.Lock()
	sink := f.sinks[accountID]
	f.mu.Unlock()
	if sink == nil {
		return fmt.Errorf("no sink wired for account %d", accountID)
	}
	sink(accountID, evt)
	return nil
}

func (f *fakeFactory) newCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFactory) lastCreds(accountID int64) *Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds[accountID]
}
