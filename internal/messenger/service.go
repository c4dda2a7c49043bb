package messenger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/bwmarrin/snowflake"
	"github.com/microlink/wabridge/config"
	"github.com/microlink/wabridge/internal/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service is the operation surface of the chat session subsystem. One
// instance serves all accounts: operations on different accounts run fully in
// parallel, while connect/disconnect/reconnect/delete and protocol event
// dispatch for the same account are serialized through a per-account mutex.
type Service struct {
	db         *gorm.DB
	store      SessionStore
	registry   *Registry
	controller *Controller
	dispatcher *Dispatcher
	node       *snowflake.Node

	opMu sync.Mutex
	ops  map[int64]*sync.Mutex
}

// AccountStatus is the read-only view exposed to the surrounding layer.
type AccountStatus struct {
	ID                 int64      `json:"id,string"`
	Phone              string     `json:"phone"`
	Status             string     `json:"status"`
	HasQR              bool       `json:"has_qr"`
	ReconnectPending   bool       `json:"reconnect_pending"`
	LastConnectedAt    *time.Time `json:"last_connected_at"`
	LastDisconnectedAt *time.Time `json:"last_disconnected_at"`
}

// PairingInfo is the polled QR view: a pure read of persisted state.
type PairingInfo struct {
	Status    string `json:"status"`
	PairingQR string `json:"pairing_qr"`
	HasQR     bool   `json:"has_qr"`
}

func NewService(db *gorm.DB, store SessionStore, factory ClientFactory, bus EventBus.Bus, nodeID int64, cfg config.MessengerConfig) (*Service, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node: %w", err)
	}
	s := &Service{
		db:    db,
		store: store,
		node:  node,
		ops:   make(map[int64]*sync.Mutex),
	}
	s.registry = NewRegistry(factory, store, s.dispatchEvent)
	s.controller = NewController(store, s.registry, bus,
		time.Duration(cfg.ReconnectDelay)*time.Second, cfg.QrSize)
	s.controller.SetReconnectFunc(s.autoReconnect)
	s.dispatcher = NewDispatcher(store, s.registry, time.Duration(cfg.SendWait)*time.Second)
	s.dispatcher.SetRepairFunc(s.repairStale)
	return s, nil
}

// Registry exposes the connection registry for the audit job and tests.
func (s *Service) Registry() *Registry { return s.registry }

// Controller exposes the lifecycle controller for tests.
func (s *Service) Controller() *Controller { return s.controller }

func (s *Service) accountMutex(accountID int64) *sync.Mutex {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	m, ok := s.ops[accountID]
	if !ok {
		m = &sync.Mutex{}
		s.ops[accountID] = m
	}
	return m
}

// dispatchEvent is the registry's event sink: it serializes protocol events
// with the explicit operations for the same account.
func (s *Service) dispatchEvent(accountID int64, evt Event) {
	m := s.accountMutex(accountID)
	m.Lock()
	defer m.Unlock()
	s.controller.OnEvent(context.Background(), accountID, evt)
}

// CreateAccount registers a new endpoint. The account starts disconnected
// with no credential; pairing happens on the first connect.
func (s *Service) CreateAccount(ctx context.Context, phone, name string) (*domain.ChatAccount, error) {
	phone = digitsOnly(phone)
	if phone == "" {
		return nil, fmt.Errorf("phone number is required")
	}
	acc := &domain.ChatAccount{
		ID:     s.node.Generate().Int64(),
		Phone:  phone,
		Name:   name,
		Status: domain.SessionDisconnected,
	}
	if err := s.db.WithContext(ctx).Create(acc).Error; err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	zap.L().Info("messenger: account registered",
		zap.Int64("account_id", acc.ID), zap.String("phone", phone))
	return acc, nil
}

func (s *Service) GetAccount(ctx context.Context, accountID int64) (*domain.ChatAccount, error) {
	var acc domain.ChatAccount
	err := s.db.WithContext(ctx).First(&acc, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", accountID, err)
	}
	return &acc, nil
}

func (s *Service) ListAccounts(ctx context.Context, page, pageSize int) ([]domain.ChatAccount, int64, error) {
	var total int64
	base := s.db.WithContext(ctx).Model(&domain.ChatAccount{})
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}
	var accs []domain.ChatAccount
	err := base.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&accs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}
	return accs, total, nil
}

// UpdateAccount changes the display name. The phone identifies the account on
// the external network and is immutable after registration.
func (s *Service) UpdateAccount(ctx context.Context, accountID int64, name string) error {
	res := s.db.WithContext(ctx).Model(&domain.ChatAccount{}).
		Where("id = ?", accountID).Update("name", name)
	if res.Error != nil {
		return fmt.Errorf("update account %d: %w", accountID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DeleteAccount forces a disconnect, then removes the row.
func (s *Service) DeleteAccount(ctx context.Context, accountID int64) error {
	m := s.accountMutex(accountID)
	m.Lock()
	defer m.Unlock()
	if err := s.disconnectLocked(ctx, accountID); err != nil && !errors.Is(err, ErrAccountNotFound) {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&domain.ChatAccount{}, accountID).Error; err != nil {
		return fmt.Errorf("delete account %d: %w", accountID, err)
	}
	zap.L().Info("messenger: account removed", zap.Int64("account_id", accountID))
	return nil
}

// Connect brings the account's session up: status moves to connecting and a
// client is built from the stored credential (fresh pairing when absent).
func (s *Service) Connect(ctx context.Context, accountID int64) error {
	m := s.accountMutex(accountID)
	m.Lock()
	defer m.Unlock()
	return s.connectLocked(ctx, accountID)
}

func (s *Service) connectLocked(ctx context.Context, accountID int64) error {
	s.controller.CancelReconnect(accountID)

	rec, err := s.store.Load(ctx, accountID)
	if err != nil {
		return err
	}
	if rec.Status == domain.SessionConnected {
		if h := s.registry.Get(accountID); h != nil && h.Client() != nil {
			return nil
		}
		// connected on record but no handle: fall through and rebuild
	}

	if err := s.store.Save(ctx, accountID, SessionUpdate{Status: strPtr(domain.SessionConnecting)}); err != nil {
		return err
	}
	h, err := s.registry.GetOrCreate(ctx, accountID)
	if err != nil {
		s.markDisconnected(ctx, accountID)
		return err
	}
	if err := h.Client().Connect(); err != nil {
		s.registry.Evict(accountID)
		s.markDisconnected(ctx, accountID)
		return fmt.Errorf("connect account %d: %w", accountID, err)
	}
	zap.L().Info("messenger: connect started", zap.Int64("account_id", accountID))
	return nil
}

// Disconnect forces a logout, destroys the handle, clears the credential and
// pairing artifact, and records the account as disconnected.
func (s *Service) Disconnect(ctx context.Context, accountID int64) error {
	m := s.accountMutex(accountID)
	m.Lock()
	defer m.Unlock()
	return s.disconnectLocked(ctx, accountID)
}

func (s *Service) disconnectLocked(ctx context.Context, accountID int64) error {
	s.controller.CancelReconnect(accountID)

	if h := s.registry.Get(accountID); h != nil {
		if cli := h.Client(); cli != nil {
			if err := cli.Logout(ctx); err != nil {
				zap.L().Warn("messenger: logout failed, dropping session anyway",
					zap.Int64("account_id", accountID), zap.Error(err))
			}
			cli.Disconnect()
		}
	}
	s.registry.Evict(accountID)

	now := time.Now()
	upd := SessionUpdate{
		Status:             strPtr(domain.SessionDisconnected),
		Credentials:        strPtr(""),
		PairingQR:          strPtr(""),
		LastDisconnectedAt: timePtr(now),
	}
	if err := s.store.Save(ctx, accountID, upd); err != nil {
		return err
	}
	s.controller.publishStatus(accountID, domain.SessionDisconnected)
	zap.L().Info("messenger: account disconnected", zap.Int64("account_id", accountID))
	return nil
}

// Reconnect tears the session down, discards the credential, and starts a
// fresh connect, forcing a new pairing.
func (s *Service) Reconnect(ctx context.Context, accountID int64) error {
	m := s.accountMutex(accountID)
	m.Lock()
	defer m.Unlock()
	if err := s.disconnectLocked(ctx, accountID); err != nil {
		return err
	}
	return s.connectLocked(ctx, accountID)
}

// autoReconnect is the deferred attempt after a restart-required close. It
// reuses the last known credential and goes through the normal connect path.
//
// The timer may already have popped when an explicit operation grabs the
// account mutex, so holding the mutex is not proof the attempt is still
// wanted. Re-validate against the record: a disconnect that won the race has
// cleared the credential and a connect has moved the status off disconnected,
// either of which turns the stale attempt into a no-op.
func (s *Service) autoReconnect(accountID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	m := s.accountMutex(accountID)
	m.Lock()
	defer m.Unlock()

	rec, err := s.store.Load(ctx, accountID)
	if err != nil {
		zap.L().Warn("messenger: automatic reconnect load failed",
			zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	if rec.Status != domain.SessionDisconnected || DecodeCredentials(rec.Credentials) == nil {
		zap.L().Info("messenger: automatic reconnect superseded",
			zap.Int64("account_id", accountID), zap.String("status", rec.Status))
		return
	}
	if err := s.connectLocked(ctx, accountID); err != nil {
		zap.L().Warn("messenger: automatic reconnect failed",
			zap.Int64("account_id", accountID), zap.Error(err))
	}
}

// GetQR is a pure read of the persisted pairing artifact and status; it
// performs no protocol action.
func (s *Service) GetQR(ctx context.Context, accountID int64) (*PairingInfo, error) {
	rec, err := s.store.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &PairingInfo{
		Status:    rec.Status,
		PairingQR: rec.PairingQR,
		HasQR:     rec.PairingQR != "",
	}, nil
}

// GetStatus returns the persisted session view for one account.
func (s *Service) GetStatus(ctx context.Context, accountID int64) (*AccountStatus, error) {
	rec, err := s.store.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &AccountStatus{
		ID:                 rec.ID,
		Phone:              rec.Phone,
		Status:             rec.Status,
		HasQR:              rec.PairingQR != "",
		ReconnectPending:   s.controller.ReconnectPending(accountID),
		LastConnectedAt:    rec.LastConnectedAt,
		LastDisconnectedAt: rec.LastDisconnectedAt,
	}, nil
}

// Send dispatches a text message from the account and records the audit row.
func (s *Service) Send(ctx context.Context, accountID int64, dest, text string) (*SendResult, error) {
	res, err := s.dispatcher.Send(ctx, accountID, dest, text)
	if err != nil {
		return nil, err
	}
	if s.db != nil {
		logRow := &domain.ChatMessageLog{
			ID:        s.node.Generate().Int64(),
			AccountID: accountID,
			Dest:      dest,
			MessageID: res.MessageID,
			SentAt:    res.Timestamp,
		}
		if err := s.db.WithContext(ctx).Create(logRow).Error; err != nil {
			zap.L().Warn("messenger: message audit write failed",
				zap.Int64("account_id", accountID), zap.Error(err))
		}
	}
	return res, nil
}

// Restore runs once at startup. Accounts a crash left in connecting or
// connected are reset to disconnected, and those holding a credential are
// reconnected so sessions survive process restarts.
func (s *Service) Restore(ctx context.Context) error {
	var accs []domain.ChatAccount
	if err := s.db.WithContext(ctx).
		Where("status IN ?", []string{domain.SessionConnecting, domain.SessionConnected}).
		Find(&accs).Error; err != nil {
		return fmt.Errorf("restore scan: %w", err)
	}
	for _, acc := range accs {
		upd := SessionUpdate{Status: strPtr(domain.SessionDisconnected), PairingQR: strPtr("")}
		if err := s.store.Save(ctx, acc.ID, upd); err != nil {
			zap.L().Warn("messenger: restore reset failed", zap.Int64("account_id", acc.ID), zap.Error(err))
			continue
		}
		if DecodeCredentials(acc.Credentials) == nil {
			continue
		}
		if err := s.Connect(ctx, acc.ID); err != nil {
			zap.L().Warn("messenger: restore connect failed", zap.Int64("account_id", acc.ID), zap.Error(err))
		}
	}
	zap.L().Info("messenger: restore complete", zap.Int("accounts", len(accs)))
	return nil
}

// AuditSessions repairs drift between persisted status and live handles: a
// connected record with no handle is corrected to disconnected, the same fix
// the dispatcher applies on a stale send.
func (s *Service) AuditSessions(ctx context.Context) {
	var accs []domain.ChatAccount
	if err := s.db.WithContext(ctx).
		Where("status = ?", domain.SessionConnected).
		Find(&accs).Error; err != nil {
		zap.L().Warn("messenger: session audit scan failed", zap.Error(err))
		return
	}
	for _, acc := range accs {
		if h := s.registry.Get(acc.ID); h != nil && h.Client() != nil {
			continue
		}
		s.repairStale(ctx, acc.ID)
	}
}

// repairStale heals a connected status that has no live handle behind it.
// This is the one place outside the controller that mutates persisted status,
// justified because it corrects a consistency violation rather than
// performing a normal transition.
func (s *Service) repairStale(ctx context.Context, accountID int64) {
	m := s.accountMutex(accountID)
	m.Lock()
	defer m.Unlock()

	rec, err := s.store.Load(ctx, accountID)
	if err != nil {
		return
	}
	if rec.Status != domain.SessionConnected {
		return
	}
	if h := s.registry.Get(accountID); h != nil && h.Client() != nil {
		return
	}
	s.registry.Evict(accountID)
	now := time.Now()
	upd := SessionUpdate{
		Status:             strPtr(domain.SessionDisconnected),
		PairingQR:          strPtr(""),
		LastDisconnectedAt: timePtr(now),
	}
	if err := s.store.Save(ctx, accountID, upd); err != nil {
		zap.L().Warn("messenger: stale state repair write failed",
			zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	s.controller.publishStatus(accountID, domain.SessionDisconnected)
	zap.L().Warn("messenger: repaired stale connected status", zap.Int64("account_id", accountID))
}

// Shutdown disconnects all live handles without logging out or clearing
// credentials, so sessions resume after the next start. Eviction happens
// before the disconnect: the registry's sink filter then drops the client's
// close event and the row stays connected for the restore scan.
func (s *Service) Shutdown() {
	s.registry.Range(func(accountID int64, h *Handle) {
		s.registry.Evict(accountID)
		if cli := h.Client(); cli != nil {
			cli.Disconnect()
		}
	})
	zap.L().Info("messenger: all sessions disconnected for shutdown")
}

func (s *Service) markDisconnected(ctx context.Context, accountID int64) {
	upd := SessionUpdate{Status: strPtr(domain.SessionDisconnected)}
	if err := s.store.Save(ctx, accountID, upd); err != nil {
		zap.L().Warn("messenger: disconnected status write failed",
			zap.Int64("account_id", accountID), zap.Error(err))
	}
}

func digitsOnly(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
