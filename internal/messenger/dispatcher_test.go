package messenger

import (
	"context"
	"testing"
	"time"

	"github.com/microlink/wabridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(store *memStore, reg *Registry, wait time.Duration) *Dispatcher {
	d := NewDispatcher(store, reg, wait)
	d.pollEvery = 10 * time.Millisecond
	return d
}

func TestDispatcherNotConnected(t *testing.T) {
	store := newMemStore()
	seedAccount(store, 1, domain.SessionDisconnected, "")
	factory := newFakeFactory()
	reg := NewRegistry(factory, store, func(int64, Event) {})
	d := newTestDispatcher(store, reg, 50*time.Millisecond)

	_, err := d.Send(context.Background(), 1, "628222", "hi")
	var nc *NotConnectedError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, domain.SessionDisconnected, nc.Status)
	// no client was ever consulted
	assert.Equal(t, 0, factory.newCalls())
}

func TestDispatcherUnknownAccount(t *testing.T) {
	store := newMemStore()
	reg := NewRegistry(newFakeFactory(), store, func(int64, Event) {})
	d := newTestDispatcher(store, reg, 50*time.Millisecond)

	_, err := d.Send(context.Background(), 9, "628222", "hi")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestDispatcherNotReadyAfterWaitWindow(t *testing.T) {
	store := newMemStore()
	seedAccount(store, 1, domain.SessionConnecting, "")
	reg := NewRegistry(newFakeFactory(), store, func(int64, Event) {})
	d := newTestDispatcher(store, reg, 60*time.Millisecond)

	start := time.Now()
	_, err := d.Send(context.Background(), 1, "628222", "hi")
	require.ErrorIs(t, err, ErrNotReady)
	// the wait is bounded, not indefinite
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatcherWaitsOutConnecting(t *testing.T) {
	store := newMemStore()
	seedAccount(store, 1, domain.SessionConnecting, "")
	factory := newFakeFactory()
	reg := NewRegistry(factory, store, func(int64, Event) {})
	_, err := reg.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	d := newTestDispatcher(store, reg, 500*time.Millisecond)

	go func() {
		time.Sleep(40 * time.Millisecond)
		_ = store.Save(context.Background(), 1, SessionUpdate{Status: strPtr(domain.SessionConnected)})
	}()

	res, err := d.Send(context.Background(), 1, "628222", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, res.MessageID)

	cli := factory.lastClient(1)
	require.NotNil(t, cli)
	assert.Equal(t, []string{"628222@s.whatsapp.net"}, cli.sentDests)
}

func TestDispatcherConnectingCancelledByContext(t *testing.T) {
	store := newMemStore()
	seedAccount(store, 1, domain.SessionConnecting, "")
	reg := NewRegistry(newFakeFactory(), store, func(int64, Event) {})
	d := newTestDispatcher(store, reg, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := d.Send(ctx, 1, "628222", "hi")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcherStaleStateRepairs(t *testing.T) {
	store := newMemStore()
	seedAccount(store, 1, domain.SessionConnected, "")
	reg := NewRegistry(newFakeFactory(), store, func(int64, Event) {})
	d := newTestDispatcher(store, reg, 50*time.Millisecond)

	var repaired []int64
	d.SetRepairFunc(func(_ context.Context, accountID int64) {
		repaired = append(repaired, accountID)
	})

	_, err := d.Send(context.Background(), 1, "628222", "hi")
	require.ErrorIs(t, err, ErrStaleState)
	assert.Equal(t, []int64{1}, repaired)
}

func TestDispatcherSendSuccess(t *testing.T) {
	store := newMemStore()
	seedAccount(store, 1, domain.SessionConnected, "")
	factory := newFakeFactory()
	reg := NewRegistry(factory, store, func(int64, Event) {})
	_, err := reg.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	d := newTestDispatcher(store, reg, 50*time.Millisecond)

	sentAt := time.Now()
	factory.lastClient(1).receipt = SendReceipt{ID: "3EB0D13A", Timestamp: sentAt}

	res, err := d.Send(context.Background(), 1, "+62 822-0001", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "3EB0D13A", res.MessageID)
	assert.True(t, res.Timestamp.Equal(sentAt))

	cli := factory.lastClient(1)
	assert.Equal(t, []string{"628220001@s.whatsapp.net"}, cli.sentDests)
	assert.Equal(t, []string{"hello there"}, cli.sentTexts)
}

func TestDispatcherBadDestination(t *testing.T) {
	store := newMemStore()
	seedAccount(store, 1, domain.SessionConnected, "")
	factory := newFakeFactory()
	reg := NewRegistry(factory, store, func(int64, Event) {})
	_, err := reg.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	d := newTestDispatcher(store, reg, 50*time.Millisecond)

	_, err = d.Send(context.Background(), 1, "---", "hi")
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Empty(t, factory.lastClient(1).sentDests)
}

func TestDispatcherClosedConnectionEvictsHandle(t *testing.T) {
	store := newMemStore()
	seedAccount(store, 1, domain.SessionConnected, "")
	factory := newFakeFactory()
	reg := NewRegistry(factory, store, func(int64, Event) {})
	_, err := reg.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	d := newTestDispatcher(store, reg, 50*time.Millisecond)

	factory.lastClient(1).sendErr = ErrConnectionClosed

	_, err = d.Send(context.Background(), 1, "628222", "hi")
	require.ErrorIs(t, err, ErrSendFailed)
	assert.Nil(t, reg.Get(1), "dead handle must be evicted")
}

func TestDispatcherNeverRetries(t *testing.T) {
	store := newMemStore()
	seedAccount(store, 1, domain.SessionConnected, "")
	factory := newFakeFactory()
	reg := NewRegistry(factory, store, func(int64, Event) {})
	_, err := reg.GetOrCreate(context.Background(), 1)
	require.NoError(t, err)
	d := newTestDispatcher(store, reg, 50*time.Millisecond)

	cli := factory.lastClient(1)
	cli.sendErr = ErrConnectionClosed

	_, err = d.Send(context.Background(), 1, "628222", "hi")
	require.Error(t, err)
	// exactly one attempt, one client: retry policy belongs to the caller
	assert.Equal(t, 1, factory.newCalls())
	assert.Empty(t, cli.sentDests)
}
