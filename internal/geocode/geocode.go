package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"coalition/builder/internal/config"
	"coalition/builder/internal/models"
)

// Result holds the derived point and district assignment for an address.
type Result struct {
	Point    models.GeoPoint `json:"point"`
	District string          `json:"district"`
}

// IGeocoder defines the interface for the geocoding collaborator.
// Best-effort: a nil result with nil error means the address could not be
// resolved; callers store the record without district assignment.
type IGeocoder interface {
	Geocode(ctx context.Context, street, city, state, zip string) (*Result, error)
}

type geocoderResponse struct {
	Found    bool    `json:"found"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	District string  `json:"district"`
}

// httpGeocoder implements IGeocoder against an HTTP API.
type httpGeocoder struct {
	cfg        *config.Config
	httpClient *http.Client
}

// NewHTTPGeocoder creates a geocoder client with a bounded timeout.
func NewHTTPGeocoder(cfg *config.Config) IGeocoder {
	return &httpGeocoder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (g *httpGeocoder) Geocode(ctx context.Context, street, city, state, zip string) (*Result, error) {
	if g.cfg.GeocoderURL == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("street", street)
	q.Set("city", city)
	q.Set("state", state)
	q.Set("zip", zip)
	reqURL := fmt.Sprintf("%s?%s", g.cfg.GeocoderURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create geocoder request: %w", err)
	}
	if g.cfg.GeocoderAPIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", g.cfg.GeocoderAPIKey))
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoder unavailable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read geocoder response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("WARN: geocoder returned status %d - Body: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	var gr geocoderResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, fmt.Errorf("failed to parse geocoder response: %w", err)
	}
	if !gr.Found {
		return nil, nil
	}

	return &Result{
		Point:    models.GeoPoint{Latitude: gr.Lat, Longitude: gr.Lng},
		District: gr.District,
	}, nil
}
