package messenger

import (
	"context"
	"testing"
	"time"

	"github.com/microlink/wabridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormSessionStoreLoad(t *testing.T) {
	db := openTestDB(t)
	store := NewGormSessionStore(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&domain.ChatAccount{
		ID:     1,
		Phone:  "628110001",
		Status: domain.SessionDisconnected,
	}).Error)

	rec, err := store.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "628110001", rec.Phone)
	assert.Equal(t, domain.SessionDisconnected, rec.Status)

	_, err = store.Load(ctx, 999)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestGormSessionStoreSavePartialMerge(t *testing.T) {
	db := openTestDB(t)
	store := NewGormSessionStore(db)
	ctx := context.Background()

	blob, err := EncodeCredentials(&Credentials{JID: "628110001@s.whatsapp.net"})
	require.NoError(t, err)
	require.NoError(t, db.Create(&domain.ChatAccount{
		ID:          1,
		Phone:       "628110001",
		Status:      domain.SessionConnecting,
		Credentials: blob,
		PairingQR:   "data:image/png;base64,xx",
	}).Error)

	// a status-only update must leave every other field alone
	require.NoError(t, store.Save(ctx, 1, SessionUpdate{Status: strPtr(domain.SessionConnected)}))

	rec, err := store.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionConnected, rec.Status)
	assert.Equal(t, blob, rec.Credentials)
	assert.Equal(t, "data:image/png;base64,xx", rec.PairingQR)

	// clearing uses explicit empty strings, not nil
	now := time.Now()
	require.NoError(t, store.Save(ctx, 1, SessionUpdate{
		Credentials:        strPtr(""),
		PairingQR:          strPtr(""),
		LastDisconnectedAt: timePtr(now),
	}))
	rec, err = store.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionConnected, rec.Status)
	assert.Empty(t, rec.Credentials)
	assert.Empty(t, rec.PairingQR)
	require.NotNil(t, rec.LastDisconnectedAt)
}

func TestGormSessionStoreSaveMissingAccount(t *testing.T) {
	db := openTestDB(t)
	store := NewGormSessionStore(db)

	err := store.Save(context.Background(), 77, SessionUpdate{Status: strPtr(domain.SessionConnected)})
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestGormSessionStoreSaveEmptyUpdate(t *testing.T) {
	db := openTestDB(t)
	store := NewGormSessionStore(db)

	// nothing to write is not an error, even for unknown accounts
	require.NoError(t, store.Save(context.Background(), 77, SessionUpdate{}))
}

func TestGormSessionStoreBumpsUpdatedAt(t *testing.T) {
	db := openTestDB(t)
	store := NewGormSessionStore(db)
	ctx := context.Background()

	created := time.Now().Add(-time.Hour)
	require.NoError(t, db.Create(&domain.ChatAccount{
		ID:        1,
		Phone:     "628110001",
		Status:    domain.SessionDisconnected,
		UpdatedAt: created,
	}).Error)

	require.NoError(t, store.Save(ctx, 1, SessionUpdate{Status: strPtr(domain.SessionConnecting)}))

	var row domain.ChatAccount
	require.NoError(t, db.First(&row, 1).Error)
	assert.True(t, row.UpdatedAt.After(created))
}
