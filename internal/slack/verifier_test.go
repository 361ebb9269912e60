package slack

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_ValidSignature(t *testing.T) {
	v := NewVerifier("secret", 5*time.Minute)
	body := []byte(`{"type":"event_callback"}`)
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	sig := v.Sign(body, timestamp)
	assert.NoError(t, v.Verify(body, timestamp, sig))
}

func TestVerifier_TamperedBody(t *testing.T) {
	v := NewVerifier("secret", 5*time.Minute)
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	sig := v.Sign([]byte("original"), timestamp)
	assert.Error(t, v.Verify([]byte("tampered"), timestamp, sig))
}

func TestVerifier_WrongSecret(t *testing.T) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	body := []byte("payload")

	sig := NewVerifier("other-secret", 5*time.Minute).Sign(body, timestamp)
	assert.Error(t, NewVerifier("secret", 5*time.Minute).Verify(body, timestamp, sig))
}

func TestVerifier_StaleTimestamp(t *testing.T) {
	v := NewVerifier("secret", 5*time.Minute)
	body := []byte("payload")
	stale := fmt.Sprintf("%d", time.Now().Add(-10*time.Minute).Unix())

	sig := v.Sign(body, stale)
	err := v.Verify(body, stale, sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timestamp")
}

func TestVerifier_MalformedInputs(t *testing.T) {
	v := NewVerifier("secret", 5*time.Minute)
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	assert.Error(t, v.Verify([]byte("x"), timestamp, ""))
	assert.Error(t, v.Verify([]byte("x"), timestamp, "sha256=abcdef"))
	assert.Error(t, v.Verify([]byte("x"), "not-a-number", "v0=abcdef"))
}
