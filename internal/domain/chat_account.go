package domain

import "time"

// Session status values for ChatAccount. Transitions are owned by the
// messenger lifecycle controller; nothing else writes Status directly.
const (
	SessionDisconnected = "disconnected"
	SessionConnecting   = "connecting"
	SessionConnected    = "connected"
	SessionError        = "error"
)

// ChatAccount is one registered endpoint on the external chat network.
// Credentials holds the opaque serialized session identity; losing it forces
// re-pairing on the next connect. PairingQR is only present while the account
// is connecting and unpaired.
type ChatAccount struct {
	ID                 int64      `json:"id,string" gorm:"primaryKey"`
	Phone              string     `json:"phone" gorm:"uniqueIndex"`
	Name               string     `json:"name"`
	Status             string     `json:"status" gorm:"index"`
	Credentials        string     `json:"-" gorm:"type:text"`
	PairingQR          string     `json:"pairing_qr" gorm:"type:text"`
	LastConnectedAt    *time.Time `json:"last_connected_at"`
	LastDisconnectedAt *time.Time `json:"last_disconnected_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (ChatAccount) TableName() string {
	return "chat_account"
}
