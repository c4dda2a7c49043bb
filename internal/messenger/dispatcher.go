package messenger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microlink/wabridge/internal/domain"
	"go.uber.org/zap"
)

// SendResult is the normalized outcome of a successful send.
type SendResult struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher is the account-facing send path. It verifies readiness against
// the persisted status, waits out a brief connecting window, forwards to the
// live client, and evicts stale handles on hard failures. It never retries a
// send on its own; the caller decides.
type Dispatcher struct {
	store    SessionStore
	registry *Registry

	// waitWindow bounds how long a send blocks while the account is still
	// connecting. It never blocks other accounts.
	waitWindow time.Duration
	pollEvery  time.Duration

	// repair corrects a connected status that has no live handle behind it.
	// Wired by the service so the fix runs under the account's op mutex.
	repair func(ctx context.Context, accountID int64)
}

func NewDispatcher(store SessionStore, registry *Registry, waitWindow time.Duration) *Dispatcher {
	return &Dispatcher{
		store:      store,
		registry:   registry,
		waitWindow: waitWindow,
		pollEvery:  200 * time.Millisecond,
	}
}

// SetRepairFunc wires the stale-state repair callback.
func (d *Dispatcher) SetRepairFunc(f func(ctx context.Context, accountID int64)) {
	d.repair = f
}

// Send delivers a text message from the account to the destination address.
func (d *Dispatcher) Send(ctx context.Context, accountID int64, dest, text string) (*SendResult, error) {
	rec, err := d.store.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if rec.Status == domain.SessionConnecting {
		rec, err = d.awaitConnected(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if rec.Status == domain.SessionConnecting {
			return nil, ErrNotReady
		}
	}
	if rec.Status != domain.SessionConnected {
		return nil, &NotConnectedError{Status: rec.Status}
	}

	h := d.registry.Get(accountID)
	if h == nil || h.Client() == nil {
		// Connected status with no live handle means a missed eviction.
		// Heal the record so readers stop seeing a phantom session.
		zap.L().Warn("messenger: connected status without live handle, repairing",
			zap.Int64("account_id", accountID))
		if d.repair != nil {
			d.repair(ctx, accountID)
		}
		return nil, ErrStaleState
	}

	addr, err := NormalizeAddress(dest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	receipt, err := h.Client().Send(ctx, addr, text)
	if err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			// Dead connection under a connected status: drop the handle so
			// the next send forces a fresh connect.
			d.registry.Evict(accountID)
			zap.L().Warn("messenger: send hit closed connection, handle evicted",
				zap.Int64("account_id", accountID), zap.Error(err))
		}
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	return &SendResult{MessageID: receipt.ID, Timestamp: receipt.Timestamp}, nil
}

// awaitConnected re-checks the persisted status until the account leaves
// connecting or the wait window closes. Returns the last record observed.
func (d *Dispatcher) awaitConnected(ctx context.Context, accountID int64) (*SessionRecord, error) {
	deadline := time.NewTimer(d.waitWindow)
	defer deadline.Stop()
	tick := time.NewTicker(d.pollEvery)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return d.store.Load(ctx, accountID)
		case <-tick.C:
			rec, err := d.store.Load(ctx, accountID)
			if err != nil {
				return nil, err
			}
			if rec.Status != domain.SessionConnecting {
				return rec, nil
			}
		}
	}
}
