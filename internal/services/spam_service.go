package services

import (
	"context"
	"errors"
	"log"
	"net"
	"regexp"
	"strings"
	"time"

	"coalition/builder/internal/classifier"
	"coalition/builder/internal/config"
	"coalition/builder/internal/models"
)

// SpamInput carries everything the scorer inspects about a submission.
type SpamInput struct {
	HoneypotValues []string // hidden form fields; humans never fill these
	FormRenderedAt time.Time
	SubmittedAt    time.Time
	Email          string
	Name           string
	Organization   string
	Statement      string
}

// ISpamService combines independent anti-abuse signals into one decision.
type ISpamService interface {
	Evaluate(ctx context.Context, input SpamInput) models.SpamDecision
}

// Signal weights. The honeypot is definitive; everything else accumulates
// toward the configured threshold.
const (
	weightTooFast    = 0.4
	weightTooSlow    = 0.3
	weightDisposable = 0.3
	weightNoMX       = 0.25
	weightContent    = 0.3
	weightClassifier = 0.5 // scaled by the service's own confidence
)

// disposableDomains lists throwaway email providers that never carry a real
// stakeholder identity.
var disposableDomains = map[string]bool{
	"mailinator.com":    true,
	"guerrillamail.com": true,
	"10minutemail.com":  true,
	"tempmail.com":      true,
	"temp-mail.org":     true,
	"throwaway.email":   true,
	"yopmail.com":       true,
	"sharklasers.com":   true,
	"trashmail.com":     true,
	"getnada.com":       true,
	"dispostable.com":   true,
	"maildrop.cc":       true,
}

// contentPatterns match known spam phrasing in free-text fields.
var contentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:viagra|cialis|casino|jackpot)\b`),
	regexp.MustCompile(`(?i)\b(?:crypto|forex|binary options?)\s+(?:trading|profits?|signals?)\b`),
	regexp.MustCompile(`(?i)\bSEO\s+(?:services?|ranking|backlinks?)\b`),
	regexp.MustCompile(`(?i)\b(?:click here|buy now|limited time offer|act now)\b`),
	regexp.MustCompile(`(?i)\bwork from home\b.*\$\d+`),
	regexp.MustCompile(`(?i)(?:https?://\S+\s*){3,}`), // link farms
	regexp.MustCompile(`(?i)\bmake\s+(?:money|\$\d+)\s+(?:fast|online|from home)\b`),
}

// spamService implements ISpamService.
type spamService struct {
	cfg        *config.Config
	classifier classifier.IContentClassifier
	lookupMX   func(ctx context.Context, domain string) ([]*net.MX, error) // test hook
}

// NewSpamService creates a new SpamService.
func NewSpamService(cfg *config.Config, cls classifier.IContentClassifier) ISpamService {
	return &spamService{
		cfg:        cfg,
		classifier: cls,
		lookupMX: func(ctx context.Context, domain string) ([]*net.MX, error) {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return net.DefaultResolver.LookupMX(ctx, domain)
		},
	}
}

// Evaluate runs every signal, sums the contributions and compares against the
// configured threshold. All triggered reasons are retained for audit logging
// regardless of the final decision.
func (s *spamService) Evaluate(ctx context.Context, input SpamInput) models.SpamDecision {
	// Honeypot short-circuits: no legitimate client ever populates it.
	for _, v := range input.HoneypotValues {
		if strings.TrimSpace(v) != "" {
			return models.SpamDecision{
				Confidence: 1.0,
				Reasons:    []string{models.ReasonHoneypot},
				Blocked:    true,
			}
		}
	}

	var confidence float64
	var reasons []string

	if !input.FormRenderedAt.IsZero() && !input.SubmittedAt.IsZero() {
		elapsed := input.SubmittedAt.Sub(input.FormRenderedAt).Seconds()
		if elapsed < s.cfg.MinSubmitSeconds {
			confidence += weightTooFast
			reasons = append(reasons, models.ReasonTooFast)
		} else if elapsed > s.cfg.MaxSubmitSeconds {
			confidence += weightTooSlow
			reasons = append(reasons, models.ReasonTooSlow)
		}
	}

	if c, r := s.checkEmailReputation(ctx, input.Email); c > 0 {
		confidence += c
		reasons = append(reasons, r...)
	}

	if s.matchesContentPatterns(input.Name, input.Organization, input.Statement) {
		confidence += weightContent
		reasons = append(reasons, models.ReasonContentMatch)
	}

	if serviceConf, ok := s.classifier.Classify(ctx, map[string]string{
		"name":         input.Name,
		"organization": input.Organization,
		"statement":    input.Statement,
	}); ok && serviceConf > 0 {
		confidence += serviceConf * weightClassifier
		reasons = append(reasons, models.ReasonClassifier)
	}

	if confidence > 1.0 {
		confidence = 1.0
	}

	decision := models.SpamDecision{
		Confidence: confidence,
		Reasons:    reasons,
		Blocked:    confidence >= s.cfg.SpamThreshold,
	}
	if len(reasons) > 0 {
		log.Printf("Spam signals for %s: confidence=%.2f blocked=%v reasons=%v",
			models.NormalizeEmail(input.Email), decision.Confidence, decision.Blocked, decision.Reasons)
	}
	return decision
}

// checkEmailReputation flags disposable domains and domains with no MX record.
// DNS failures other than a definitive "no host" are treated as no signal.
func (s *spamService) checkEmailReputation(ctx context.Context, email string) (float64, []string) {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return 0, nil
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))

	if disposableDomains[domain] {
		return weightDisposable, []string{models.ReasonDisposable}
	}

	records, err := s.lookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return weightNoMX, []string{models.ReasonNoMX}
		}
		// Resolver trouble is not the submitter's fault.
		log.Printf("WARN: MX lookup failed for %s: %v", domain, err)
		return 0, nil
	}
	if len(records) == 0 {
		return weightNoMX, []string{models.ReasonNoMX}
	}
	return 0, nil
}

func (s *spamService) matchesContentPatterns(fields ...string) bool {
	joined := strings.Join(fields, "\n")
	for _, p := range contentPatterns {
		if p.MatchString(joined) {
			return true
		}
	}
	return false
}
