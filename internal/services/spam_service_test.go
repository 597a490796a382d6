package services

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"coalition/builder/internal/config"
	"coalition/builder/internal/models"
)

// stubClassifier returns a fixed confidence, or reports unavailable.
type stubClassifier struct {
	confidence  float64
	unavailable bool
}

func (s *stubClassifier) Classify(ctx context.Context, fields map[string]string) (float64, bool) {
	if s.unavailable {
		return 0, false
	}
	return s.confidence, true
}

func newTestSpamService(cls *stubClassifier, mxRecords int) *spamService {
	cfg := &config.Config{
		SpamThreshold:    0.7,
		MinSubmitSeconds: 5,
		MaxSubmitSeconds: 1800,
	}
	return &spamService{
		cfg:        cfg,
		classifier: cls,
		lookupMX: func(ctx context.Context, domain string) ([]*net.MX, error) {
			records := make([]*net.MX, mxRecords)
			for i := range records {
				records[i] = &net.MX{Host: "mx.example.com"}
			}
			return records, nil
		},
	}
}

func cleanInput() SpamInput {
	rendered := time.Now().Add(-2 * time.Minute)
	return SpamInput{
		FormRenderedAt: rendered,
		SubmittedAt:    time.Now(),
		Email:          "jane@example.com",
		Name:           "Jane Doe",
		Organization:   "Chesapeake Oyster Co.",
		Statement:      "We support this campaign because clean water matters to our business.",
	}
}

func TestEvaluateCleanSubmission(t *testing.T) {
	svc := newTestSpamService(&stubClassifier{unavailable: true}, 1)

	decision := svc.Evaluate(context.Background(), cleanInput())

	assert.False(t, decision.Blocked)
	assert.Zero(t, decision.Confidence)
	assert.Empty(t, decision.Reasons)
}

func TestEvaluateHoneypotAlwaysBlocks(t *testing.T) {
	svc := newTestSpamService(&stubClassifier{unavailable: true}, 1)

	for _, value := range []string{"http://spam.example", "x", " a "} {
		input := cleanInput()
		input.HoneypotValues = []string{"", value}

		decision := svc.Evaluate(context.Background(), input)

		assert.True(t, decision.Blocked, "honeypot value %q must block", value)
		assert.Equal(t, 1.0, decision.Confidence)
		assert.Equal(t, []string{models.ReasonHoneypot}, decision.Reasons)
	}
}

func TestEvaluateTimingSignals(t *testing.T) {
	svc := newTestSpamService(&stubClassifier{unavailable: true}, 1)

	tooFast := cleanInput()
	tooFast.FormRenderedAt = time.Now().Add(-2 * time.Second)
	tooFast.SubmittedAt = time.Now()
	decision := svc.Evaluate(context.Background(), tooFast)
	assert.Contains(t, decision.Reasons, models.ReasonTooFast)
	assert.False(t, decision.Blocked, "timing alone stays under the threshold")

	tooSlow := cleanInput()
	tooSlow.FormRenderedAt = time.Now().Add(-2 * time.Hour)
	tooSlow.SubmittedAt = time.Now()
	decision = svc.Evaluate(context.Background(), tooSlow)
	assert.Contains(t, decision.Reasons, models.ReasonTooSlow)
}

func TestEvaluateDisposableDomain(t *testing.T) {
	svc := newTestSpamService(&stubClassifier{unavailable: true}, 1)

	input := cleanInput()
	input.Email = "bot@mailinator.com"
	decision := svc.Evaluate(context.Background(), input)

	assert.Contains(t, decision.Reasons, models.ReasonDisposable)
}

func TestEvaluateNoMXRecords(t *testing.T) {
	svc := newTestSpamService(&stubClassifier{unavailable: true}, 0)

	decision := svc.Evaluate(context.Background(), cleanInput())

	assert.Contains(t, decision.Reasons, models.ReasonNoMX)
	assert.False(t, decision.Blocked)
}

func TestEvaluateContentPatterns(t *testing.T) {
	svc := newTestSpamService(&stubClassifier{unavailable: true}, 1)

	input := cleanInput()
	input.Statement = "Click here for cheap SEO services and backlinks!"
	decision := svc.Evaluate(context.Background(), input)

	assert.Contains(t, decision.Reasons, models.ReasonContentMatch)
}

func TestEvaluateSignalsAccumulateToBlock(t *testing.T) {
	// Content match (0.3) + too fast (0.4) = 0.7 meets the default threshold.
	svc := newTestSpamService(&stubClassifier{unavailable: true}, 1)

	input := cleanInput()
	input.FormRenderedAt = time.Now().Add(-1 * time.Second)
	input.SubmittedAt = time.Now()
	input.Statement = "Buy now! Limited time offer!"

	decision := svc.Evaluate(context.Background(), input)

	assert.True(t, decision.Blocked)
	assert.InDelta(t, 0.7, decision.Confidence, 0.001)
	assert.Len(t, decision.Reasons, 2)
}

func TestEvaluateClassifierContributesScaledSignal(t *testing.T) {
	svc := newTestSpamService(&stubClassifier{confidence: 0.8}, 1)

	decision := svc.Evaluate(context.Background(), cleanInput())

	assert.InDelta(t, 0.4, decision.Confidence, 0.001)
	assert.Equal(t, []string{models.ReasonClassifier}, decision.Reasons)
	assert.False(t, decision.Blocked)
}

func TestEvaluateClassifierOutageFailsOpen(t *testing.T) {
	// An unavailable classifier must not block an otherwise clean submission.
	svc := newTestSpamService(&stubClassifier{unavailable: true}, 1)

	decision := svc.Evaluate(context.Background(), cleanInput())

	assert.False(t, decision.Blocked)
	assert.NotContains(t, decision.Reasons, models.ReasonClassifier)
}

func TestEvaluateConfidenceCappedAtOne(t *testing.T) {
	svc := newTestSpamService(&stubClassifier{confidence: 1.0}, 0)

	input := cleanInput()
	input.Email = "bot@mailinator.com"
	input.FormRenderedAt = time.Now().Add(-1 * time.Second)
	input.SubmittedAt = time.Now()
	input.Statement = "Make money fast! Click here! Casino jackpot!"

	decision := svc.Evaluate(context.Background(), input)

	assert.True(t, decision.Blocked)
	assert.Equal(t, 1.0, decision.Confidence)
}
