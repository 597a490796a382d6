package models

// SpamDecision is the aggregate outcome of the independent anti-abuse signals.
// It is not persisted as its own entity; the score and reasons are recorded
// into the endorsement's submission metadata for audit.
type SpamDecision struct {
	Confidence float64  `json:"confidence"` // [0.0, 1.0]
	Reasons    []string `json:"reasons"`
	Blocked    bool     `json:"blocked"`
}

// Spam reason codes. Logged server-side only; never surfaced to callers.
const (
	ReasonHoneypot     = "honeypot_filled"
	ReasonTooFast      = "submitted_too_fast"
	ReasonTooSlow      = "form_expired"
	ReasonDisposable   = "disposable_email_domain"
	ReasonNoMX         = "email_domain_no_mx"
	ReasonContentMatch = "content_pattern_match"
	ReasonClassifier   = "classifier_flagged"
)
