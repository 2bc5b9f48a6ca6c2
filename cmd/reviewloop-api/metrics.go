package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/reviewloop/reviewloop/pkg/models"
)

// httpMetricsSource fetches aggregate metric snapshots from the reporting
// service that owns review analytics.
type httpMetricsSource struct {
	baseURL string
	client  *http.Client
}

func newHTTPMetricsSource(baseURL string) *httpMetricsSource {
	return &httpMetricsSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *httpMetricsSource) Current(ctx context.Context) (models.MetricsSnapshot, error) {
	var snapshot models.MetricsSnapshot

	err := s.fetch(ctx, s.baseURL+"/metrics/current", &snapshot)

	return snapshot, err
}

func (s *httpMetricsSource) Previous(ctx context.Context) (*models.MetricsSnapshot, error) {
	var snapshot models.MetricsSnapshot

	err := s.fetch(ctx, s.baseURL+"/metrics/previous", &snapshot)
	if err != nil {
		return nil, err
	}

	return &snapshot, nil
}

func (s *httpMetricsSource) fetch(ctx context.Context, url string, out *models.MetricsSnapshot) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build metrics request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metrics endpoint returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode metrics snapshot: %w", err)
	}

	return nil
}
