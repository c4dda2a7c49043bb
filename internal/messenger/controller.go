package messenger

import (
	"context"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/microlink/wabridge/internal/domain"
	"go.uber.org/zap"
)

// TopicStatus is published on the application event bus whenever an account's
// session status changes, with (accountID int64, status string) arguments.
const TopicStatus = "messenger.status"

// Controller is the per-account lifecycle state machine. It interprets
// protocol events, updates the persisted status, evicts handles on close, and
// schedules the single automatic reconnect after a restart-required close.
//
// Crash-only discipline: every close evicts the handle, and the next connect
// re-derives truth from the persisted credential. The only classification that
// matters is terminal vs recoverable, because retrying a logged-out session
// would loop forever against an invalidated credential.
//
// Callers must serialize OnEvent with the explicit operations for the same
// account; the service's per-account mutex does this.
type Controller struct {
	store          SessionStore
	registry       *Registry
	bus            EventBus.Bus
	reconnectDelay time.Duration
	qrSize         int

	// reconnect runs a full connect operation for the account; wired by the
	// service so the deferred attempt goes through the same serialization.
	reconnect func(accountID int64)

	timerMu sync.Mutex
	timers  map[int64]*time.Timer
}

func NewController(store SessionStore, registry *Registry, bus EventBus.Bus, reconnectDelay time.Duration, qrSize int) *Controller {
	return &Controller{
		store:          store,
		registry:       registry,
		bus:            bus,
		reconnectDelay: reconnectDelay,
		qrSize:         qrSize,
		timers:         make(map[int64]*time.Timer),
	}
}

// SetReconnectFunc wires the deferred reconnect callback. Must be called once
// before any event can arrive.
func (c *Controller) SetReconnectFunc(f func(accountID int64)) {
	c.reconnect = f
}

// OnEvent dispatches one protocol event for an account. Persistence failures
// here are logged and non-fatal: the in-memory handle keeps working even if a
// status write fails. Explicit operations surface their own write errors.
func (c *Controller) OnEvent(ctx context.Context, accountID int64, evt Event) {
	switch e := evt.(type) {
	case EventPairingCode:
		c.onPairingCode(ctx, accountID, e.Code)
	case EventCredentials:
		c.onCredentials(ctx, accountID, e.Creds)
	case EventOpened:
		c.onOpened(ctx, accountID)
	case EventClosed:
		c.onClosed(ctx, accountID, e.Reason)
	default:
		zap.L().Debug("messenger: ignoring unknown event", zap.Int64("account_id", accountID))
	}
}

func (c *Controller) onPairingCode(ctx context.Context, accountID int64, code string) {
	rec, err := c.store.Load(ctx, accountID)
	if err != nil {
		zap.L().Warn("messenger: pairing event for unloadable account", zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	// Pairing payloads only matter while connecting and unpaired. Repeated
	// payloads before the user scans simply replace the artifact.
	if rec.Status != domain.SessionConnecting || DecodeCredentials(rec.Credentials) != nil {
		zap.L().Debug("messenger: dropping pairing code outside pairing window",
			zap.Int64("account_id", accountID), zap.String("status", rec.Status))
		return
	}
	artifact, err := RenderPairingArtifact(code, c.qrSize)
	if err != nil {
		zap.L().Error("messenger: pairing artifact render failed", zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	upd := SessionUpdate{Status: strPtr(domain.SessionConnecting), PairingQR: strPtr(artifact)}
	if err := c.store.Save(ctx, accountID, upd); err != nil {
		zap.L().Warn("messenger: pairing artifact write failed", zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	zap.L().Info("messenger: pairing artifact updated", zap.Int64("account_id", accountID))
}

func (c *Controller) onCredentials(ctx context.Context, accountID int64, creds *Credentials) {
	blob, err := EncodeCredentials(creds)
	if err != nil {
		zap.L().Error("messenger: credential encode failed", zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	// Durability must not wait for connection-open: persist immediately so a
	// crash between pairing and open does not lose the session identity.
	if err := c.store.Save(ctx, accountID, SessionUpdate{Credentials: strPtr(blob)}); err != nil {
		zap.L().Warn("messenger: credential write failed", zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	zap.L().Info("messenger: credentials persisted", zap.Int64("account_id", accountID))
}

func (c *Controller) onOpened(ctx context.Context, accountID int64) {
	now := time.Now()
	upd := SessionUpdate{
		Status:          strPtr(domain.SessionConnected),
		PairingQR:       strPtr(""),
		LastConnectedAt: timePtr(now),
	}
	if err := c.store.Save(ctx, accountID, upd); err != nil {
		zap.L().Warn("messenger: connected status write failed", zap.Int64("account_id", accountID), zap.Error(err))
	}
	c.publishStatus(accountID, domain.SessionConnected)
	zap.L().Info("messenger: session connected", zap.Int64("account_id", accountID))
}

func (c *Controller) onClosed(ctx context.Context, accountID int64, reason CloseReason) {
	c.registry.Evict(accountID)
	now := time.Now()
	status := domain.SessionDisconnected
	upd := SessionUpdate{
		PairingQR:          strPtr(""),
		LastDisconnectedAt: timePtr(now),
	}
	if reason.Terminal() {
		status = domain.SessionError
		upd.Credentials = strPtr("")
	}
	upd.Status = strPtr(status)
	if err := c.store.Save(ctx, accountID, upd); err != nil {
		zap.L().Warn("messenger: close status write failed", zap.Int64("account_id", accountID), zap.Error(err))
	}
	c.publishStatus(accountID, status)
	zap.L().Info("messenger: session closed",
		zap.Int64("account_id", accountID), zap.Stringer("reason", reason))

	if reason == CloseRestartRequired {
		c.scheduleReconnect(accountID)
	}
}

// scheduleReconnect arms the single deferred reconnect for an account. An
// already armed timer is superseded, never doubled.
func (c *Controller) scheduleReconnect(accountID int64) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if t, ok := c.timers[accountID]; ok {
		t.Stop()
	}
	c.timers[accountID] = time.AfterFunc(c.reconnectDelay, func() {
		c.timerMu.Lock()
		delete(c.timers, accountID)
		c.timerMu.Unlock()
		zap.L().Info("messenger: automatic reconnect firing", zap.Int64("account_id", accountID))
		c.reconnect(accountID)
	})
	zap.L().Info("messenger: automatic reconnect scheduled",
		zap.Int64("account_id", accountID), zap.Duration("delay", c.reconnectDelay))
}

// CancelReconnect disarms any pending automatic reconnect. Every explicit
// connect, disconnect, and reconnect request passes through here so an
// operator action always wins over the deferred attempt.
func (c *Controller) CancelReconnect(accountID int64) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if t, ok := c.timers[accountID]; ok {
		t.Stop()
		delete(c.timers, accountID)
	}
}

// ReconnectPending reports whether an automatic reconnect is armed.
func (c *Controller) ReconnectPending(accountID int64) bool {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	_, ok := c.timers[accountID]
	return ok
}

func (c *Controller) publishStatus(accountID int64, status string) {
	if c.bus != nil {
		c.bus.Publish(TopicStatus, accountID, status)
	}
}
