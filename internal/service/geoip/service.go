// Package geoip resolves request IPs to a coarse location tag via an
// external HTTP lookup service. Enrichment only: failures degrade to
// placeholder values and never fail the request.
package geoip

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type Service struct {
	baseURL    string
	httpClient *http.Client
}

// NewService initializes the lookup client. An empty baseURL disables
// lookups entirely.
func NewService(baseURL string) *Service {
	return &Service{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 3 * time.Second},
	}
}

// Lookup returns "country; region; city; timezone" with "." standing in
// for any part that could not be resolved.
func (s *Service) Lookup(ctx context.Context, ip string) string {
	parts := []string{".", ".", ".", "."}
	if s.baseURL == "" || ip == "" {
		return strings.Join(parts, "; ")
	}

	var out struct {
		Country  string `json:"country"`
		Region   string `json:"region"`
		City     string `json:"city"`
		Timezone string `json:"timezone"`
	}
	url := s.baseURL + "/json/" + ip
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return strings.Join(parts, "; ")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return strings.Join(parts, "; ")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return strings.Join(parts, "; ")
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return strings.Join(parts, "; ")
	}

	if out.Country != "" {
		parts[0] = out.Country
	}
	if out.Region != "" {
		parts[1] = out.Region
	}
	if out.City != "" {
		parts[2] = out.City
	}
	if out.Timezone != "" {
		parts[3] = out.Timezone
	}
	return strings.Join(parts, "; ")
}
