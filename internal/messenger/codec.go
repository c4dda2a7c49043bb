package messenger

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Credentials is the serialized session identity for one account. It is
// produced wholesale by each credentials-changed event and never mutated in
// place; the blob in the session store is its only durable form.
type Credentials struct {
	JID      string    `json:"jid"`
	PairedAt time.Time `json:"paired_at"`
}

// EncodeCredentials serializes credentials to a storable text blob.
func EncodeCredentials(creds *Credentials) (string, error) {
	if creds == nil {
		return "", nil
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeCredentials revives credentials from a stored blob. Corrupt or
// unparseable input yields nil ("no credential"): the connect path then
// behaves exactly like a fresh pairing instead of crashing on bad data.
func DecodeCredentials(blob string) *Credentials {
	if strings.TrimSpace(blob) == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		zap.L().Warn("messenger: discarding undecodable credential blob", zap.Error(err))
		return nil
	}
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		zap.L().Warn("messenger: discarding corrupt credential blob", zap.Error(err))
		return nil
	}
	if creds.JID == "" {
		return nil
	}
	return &creds
}
