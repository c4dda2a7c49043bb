package domain

import "time"

// ChatMessageLog records every successful outbound send for auditing.
type ChatMessageLog struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	AccountID int64     `json:"account_id,string" gorm:"index"`
	Dest      string    `json:"dest"`
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (ChatMessageLog) TableName() string {
	return "chat_message_log"
}
