package messenger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"gorm.io/gorm"
)

// WameowFactory builds whatsmeow-backed protocol clients. Device key material
// lives in whatsmeow's own sqlstore tables, which share the application's
// database connection; our credential blob only carries the device JID used
// to revive the right device row.
type WameowFactory struct {
	container *sqlstore.Container
}

// NewWameowFactory wraps the application's database connection so whatsmeow
// tables are created and migrated in the same database.
func NewWameowFactory(ctx context.Context, db *gorm.DB, dbType string) (*WameowFactory, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("obtain underlying sql.DB: %w", err)
	}
	driver := "sqlite3"
	if dbType == "postgres" || dbType == "postgresql" {
		driver = "postgres"
	}
	container := sqlstore.NewWithDB(sqlDB, driver, waLog.Noop)
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("sqlstore upgrade: %w", err)
	}
	zap.L().Info("messenger: whatsmeow device store ready", zap.String("driver", driver))
	return &WameowFactory{container: container}, nil
}

func (f *WameowFactory) New(ctx context.Context, accountID int64, creds *Credentials, sink EventSink) (ProtocolClient, error) {
	var device *store.Device
	if creds != nil {
		jid, err := waTypes.ParseJID(creds.JID)
		if err != nil {
			zap.L().Warn("messenger: stored JID unparseable, pairing fresh",
				zap.Int64("account_id", accountID), zap.Error(err))
		} else {
			device, err = f.container.GetDevice(ctx, jid)
			if err != nil {
				zap.L().Warn("messenger: stored device not revivable, pairing fresh",
					zap.Int64("account_id", accountID), zap.Error(err))
				device = nil
			}
		}
	}
	if device == nil {
		device = f.container.NewDevice()
	}
	w := &wameowClient{
		accountID: accountID,
		sink:      sink,
	}
	w.cli = whatsmeow.NewClient(device, waLog.Noop)
	w.cli.AddEventHandler(w.handleEvent)
	return w, nil
}

type wameowClient struct {
	accountID int64
	cli       *whatsmeow.Client
	sink      EventSink

	// justPaired marks that pairing completed on the current socket; the
	// server then drops the connection and expects one immediate reconnect.
	justPaired atomic.Bool
}

// handleEvent translates whatsmeow's event types into the closed lifecycle
// set. whatsmeow dispatches from its own goroutines, satisfying the EventSink
// delivery contract.
func (w *wameowClient) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.QR:
		if len(e.Codes) > 0 {
			w.sink(w.accountID, EventPairingCode{Code: e.Codes[0]})
		}
	case *events.PairSuccess:
		w.justPaired.Store(true)
		w.sink(w.accountID, EventCredentials{Creds: &Credentials{
			JID:      e.ID.String(),
			PairedAt: time.Now(),
		}})
	case *events.Connected:
		w.justPaired.Store(false)
		w.sink(w.accountID, EventOpened{})
	case *events.Disconnected:
		reason := CloseNetwork
		if w.justPaired.Swap(false) {
			reason = CloseRestartRequired
		}
		w.sink(w.accountID, EventClosed{Reason: reason})
	case *events.StreamReplaced:
		w.sink(w.accountID, EventClosed{Reason: CloseNetwork})
	case *events.LoggedOut:
		w.sink(w.accountID, EventClosed{Reason: CloseLoggedOut})
	case *events.ClientOutdated:
		w.sink(w.accountID, EventClosed{Reason: CloseNetwork})
	}
}

func (w *wameowClient) Connect() error {
	return w.cli.Connect()
}

func (w *wameowClient) Disconnect() {
	w.cli.Disconnect()
}

func (w *wameowClient) Logout(ctx context.Context) error {
	if w.cli.Store.ID == nil {
		// never paired, nothing to invalidate server-side
		return nil
	}
	return w.cli.Logout(ctx)
}

func (w *wameowClient) Connected() bool {
	return w.cli.IsConnected()
}

func (w *wameowClient) Send(ctx context.Context, dest, text string) (SendReceipt, error) {
	jid, err := waTypes.ParseJID(dest)
	if err != nil {
		return SendReceipt{}, fmt.Errorf("parse destination %q: %w", dest, err)
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	resp, err := w.cli.SendMessage(ctx, jid, msg)
	if err != nil {
		if errors.Is(err, whatsmeow.ErrNotConnected) || errors.Is(err, whatsmeow.ErrNotLoggedIn) {
			return SendReceipt{}, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		return SendReceipt{}, err
	}
	return SendReceipt{ID: string(resp.ID), Timestamp: resp.Timestamp}, nil
}
