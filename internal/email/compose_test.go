package email

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeMessageVerification(t *testing.T) {
	msg, err := ComposeMessage("noreply@example.org", "jane@example.com",
		"Confirm your endorsement (Coalition Builder)", "endorsement_verification",
		map[string]string{
			"name":       "Jane Doe",
			"verify_url": "http://localhost:8080/v1/endorsements/verify/abc123",
			"expires_at": "Tue, 01 Sep 2026 12:00:00 UTC",
		})

	require.NoError(t, err)
	body := string(msg)
	assert.Contains(t, body, "To: jane@example.com\r\n")
	assert.Contains(t, body, "Subject: Confirm your endorsement (Coalition Builder)\r\n")
	assert.Contains(t, body, "Hello Jane Doe,")
	assert.Contains(t, body, "http://localhost:8080/v1/endorsements/verify/abc123")
	assert.Contains(t, body, "used only once")
}

func TestComposeMessageModerationOutcomes(t *testing.T) {
	for _, id := range []string{"endorsement_approved", "endorsement_rejected"} {
		msg, err := ComposeMessage("noreply@example.org", "jane@example.com", "subject", id,
			map[string]string{"name": "Jane Doe"})
		require.NoError(t, err, id)
		assert.Contains(t, string(msg), "Hello Jane Doe,")
	}
}

func TestComposeMessageUnknownTemplate(t *testing.T) {
	_, err := ComposeMessage("noreply@example.org", "jane@example.com", "subject", "no_such_template", nil)
	assert.Error(t, err)
}

// recordingSender captures Send calls, optionally failing.
type recordingSender struct {
	calls int
	fail  bool
}

func (r *recordingSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	r.calls++
	if r.fail {
		return fmt.Errorf("send failed")
	}
	return nil
}

func TestCompositeSenderCallsAllSenders(t *testing.T) {
	first := &recordingSender{}
	second := &recordingSender{}
	composite := NewCompositeEmailSender(first, second)

	err := composite.Send(context.Background(), []string{"jane@example.com"}, "subject", []byte("body"))

	require.NoError(t, err)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestCompositeSenderAggregatesFailures(t *testing.T) {
	failing := &recordingSender{fail: true}
	working := &recordingSender{}
	composite := NewCompositeEmailSender(failing, working)

	err := composite.Send(context.Background(), []string{"jane@example.com"}, "subject", []byte("body"))

	assert.Error(t, err)
	// A failing sender never prevents the others from being attempted.
	assert.Equal(t, 1, working.calls)
}

func TestCompositeSenderRequiresAtLeastOneSender(t *testing.T) {
	composite := NewCompositeEmailSender()
	err := composite.Send(context.Background(), []string{"jane@example.com"}, "subject", []byte("body"))
	assert.Error(t, err)
}
