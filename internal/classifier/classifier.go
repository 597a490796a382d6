package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"coalition/builder/internal/config"
)

// IContentClassifier defines the interface for the third-party spam
// classification collaborator. It is advisory only: callers must treat an
// unavailable service as "no signal", never as a block.
type IContentClassifier interface {
	// Classify returns the service's spam confidence in [0.0, 1.0] for the
	// given text fields. ok is false when the service is unavailable or
	// unconfigured, in which case confidence is meaningless.
	Classify(ctx context.Context, fields map[string]string) (confidence float64, ok bool)
}

// classifierResponse is the expected structure from the classification endpoint.
type classifierResponse struct {
	Spam       bool     `json:"spam"`
	Confidence float64  `json:"confidence"`
	Labels     []string `json:"labels"`
}

// httpClassifier implements IContentClassifier against an HTTP API.
type httpClassifier struct {
	cfg        *config.Config
	httpClient *http.Client
}

// NewHTTPClassifier creates a content classifier client with a bounded timeout
// so a slow collaborator cannot stall submissions.
func NewHTTPClassifier(cfg *config.Config) IContentClassifier {
	return &httpClassifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *httpClassifier) Classify(ctx context.Context, fields map[string]string) (float64, bool) {
	if c.cfg.ClassifierURL == "" {
		// Not configured; contribute nothing rather than guessing.
		return 0, false
	}

	payload := map[string]interface{}{"fields": fields}
	jsonData, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.ClassifierURL, bytes.NewBuffer(jsonData))
	if err != nil {
		log.Printf("Error creating classifier request: %v", err)
		return 0, false
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.ClassifierAPIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.cfg.ClassifierAPIKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("WARN: content classifier unavailable: %v", err)
		return 0, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("WARN: error reading classifier response: %v", err)
		return 0, false
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("WARN: classifier returned status %d - Body: %s", resp.StatusCode, string(body))
		return 0, false
	}

	var cr classifierResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		log.Printf("WARN: error unmarshalling classifier response: %v - Body: %s", err, string(body))
		return 0, false
	}

	if !cr.Spam {
		return 0, true
	}
	if cr.Confidence < 0 {
		return 0, true
	}
	if cr.Confidence > 1 {
		return 1, true
	}
	return cr.Confidence, true
}
