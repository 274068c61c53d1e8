package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	blob, err := SealSecret("alpaca-secret-value", "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "alpaca-secret-value")

	got, err := OpenSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alpaca-secret-value", got)

	_, err = OpenSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestSealSecret_RejectsEmpty(t *testing.T) {
	_, err := SealSecret("x", "")
	assert.Error(t, err)
	_, err = SealSecret("  ", "pw")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{Raw: "plain", Path: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	blob, err := SealSecret("sealed", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{Path: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "sealed", got)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
}

func TestWebhookSigner(t *testing.T) {
	s := WebhookSigner{Secret: "shh"}
	body := []byte(`{"kind":"trade_exit"}`)

	h := s.HeadersAt(body, 1721380500)
	assert.Equal(t, "1721380500", h[HeaderTimestamp])
	assert.Len(t, h[HeaderSignature], len("sha256=")+64)
	assert.True(t, s.Verify(body, "1721380500", h[HeaderSignature]))

	assert.False(t, s.Verify(body, "1721380501", h[HeaderSignature]))
	assert.False(t, s.Verify([]byte(`{}`), "1721380500", h[HeaderSignature]))
	assert.False(t, WebhookSigner{Secret: "other"}.Verify(body, "1721380500", h[HeaderSignature]))
	assert.Equal(t, "WebhookSigner{secret=****}", s.String())
}
