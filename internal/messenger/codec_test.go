package messenger

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsRoundTrip(t *testing.T) {
	creds := &Credentials{JID: "6281234567890.1:2@s.whatsapp.net", PairedAt: time.Now().Truncate(time.Second)}
	blob, err := EncodeCredentials(creds)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	got := DecodeCredentials(blob)
	require.NotNil(t, got)
	assert.Equal(t, creds.JID, got.JID)
	assert.True(t, creds.PairedAt.Equal(got.PairedAt))
}

func TestEncodeCredentialsNil(t *testing.T) {
	blob, err := EncodeCredentials(nil)
	require.NoError(t, err)
	assert.Empty(t, blob)
}

func TestDecodeCredentialsBadInput(t *testing.T) {
	tests := []struct {
		name string
		blob string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"not base64", "%%%not-base64%%%"},
		{"not json", base64.StdEncoding.EncodeToString([]byte("garbage"))},
		{"missing jid", base64.StdEncoding.EncodeToString([]byte(`{"paired_at":"2026-01-01T00:00:00Z"}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, DecodeCredentials(tt.blob))
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare digits", "6281234567890", "6281234567890@s.whatsapp.net", false},
		{"formatted", "+62 812-3456-7890", "6281234567890@s.whatsapp.net", false},
		{"already addressed", "6281234567890@s.whatsapp.net", "6281234567890@s.whatsapp.net", false},
		{"group address untouched", "12036304@g.us", "12036304@g.us", false},
		{"empty", "", "", true},
		{"no digits", "+-()", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCloseReason(t *testing.T) {
	assert.False(t, CloseNetwork.Terminal())
	assert.False(t, CloseRestartRequired.Terminal())
	assert.True(t, CloseLoggedOut.Terminal())
	assert.Equal(t, "network", CloseNetwork.String())
	assert.Equal(t, "restart-required", CloseRestartRequired.String())
	assert.Equal(t, "logged-out", CloseLoggedOut.String())
}

func TestRenderPairingArtifact(t *testing.T) {
	artifact, err := RenderPairingArtifact("2@pairing-payload,more-data", 128)
	require.NoError(t, err)
	assert.Contains(t, artifact, "data:image/png;base64,")
}
