package messenger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microlink/wabridge/internal/domain"
	"gorm.io/gorm"
)

// SessionRecord is the durable per-account session state.
type SessionRecord struct {
	ID                 int64
	Phone              string
	Status             string
	Credentials        string
	PairingQR          string
	LastConnectedAt    *time.Time
	LastDisconnectedAt *time.Time
}

// SessionUpdate is a partial write: only non-nil fields are persisted.
type SessionUpdate struct {
	Status             *string
	Credentials        *string
	PairingQR          *string
	LastConnectedAt    *time.Time
	LastDisconnectedAt *time.Time
}

// SessionStore persists one session record per account. It is safe for
// concurrent use across accounts; per-account write ordering is the lifecycle
// controller's responsibility, not the store's.
type SessionStore interface {
	// Load returns the current record or ErrAccountNotFound.
	Load(ctx context.Context, accountID int64) (*SessionRecord, error)
	// Save merges the update into the record and bumps updated_at.
	Save(ctx context.Context, accountID int64, upd SessionUpdate) error
}

// GormSessionStore is the gorm implementation over the chat_account table.
type GormSessionStore struct {
	db *gorm.DB
}

func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

func (s *GormSessionStore) Load(ctx context.Context, accountID int64) (*SessionRecord, error) {
	var acc domain.ChatAccount
	err := s.db.WithContext(ctx).First(&acc, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", accountID, err)
	}
	return &SessionRecord{
		ID:                 acc.ID,
		Phone:              acc.Phone,
		Status:             acc.Status,
		Credentials:        acc.Credentials,
		PairingQR:          acc.PairingQR,
		LastConnectedAt:    acc.LastConnectedAt,
		LastDisconnectedAt: acc.LastDisconnectedAt,
	}, nil
}

func (s *GormSessionStore) Save(ctx context.Context, accountID int64, upd SessionUpdate) error {
	fields := map[string]interface{}{}
	if upd.Status != nil {
		fields["status"] = *upd.Status
	}
	if upd.Credentials != nil {
		fields["credentials"] = *upd.Credentials
	}
	if upd.PairingQR != nil {
		fields["pairing_qr"] = *upd.PairingQR
	}
	if upd.LastConnectedAt != nil {
		fields["last_connected_at"] = *upd.LastConnectedAt
	}
	if upd.LastDisconnectedAt != nil {
		fields["last_disconnected_at"] = *upd.LastDisconnectedAt
	}
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = time.Now()
	res := s.db.WithContext(ctx).
		Model(&domain.ChatAccount{}).
		Where("id = ?", accountID).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("save session %d: %w", accountID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Helpers for building partial updates.

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
