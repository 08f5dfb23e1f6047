package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fern-network/fern/internal/domain"
)

// apiClient is a thin HTTP client for Fern's control API, used by every CLI
// subcommand that talks to an already-running daemon rather than embedding
// one.
type apiClient struct {
	baseURL string
	http    *http.Client
}

// localhostClient builds a client against the default local API address.
func localhostClient() *apiClient {
	return &apiClient{
		baseURL: "http://127.0.0.1:3000",
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) apiURL(path string) string {
	return c.baseURL + "/api" + path
}

func (c *apiClient) do(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		text, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, text)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListGuests lists every guest the daemon currently supervises.
func (c *apiClient) ListGuests(ctx context.Context) ([]domain.GuestInfo, error) {
	var guests []domain.GuestInfo
	err := c.do(ctx, http.MethodGet, c.apiURL("/guest"), nil, &guests)
	return guests, err
}

// CreateGuest creates a new guest from module bytes.
func (c *apiClient) CreateGuest(ctx context.Context, name string, module []byte) (domain.CreateResult, error) {
	var result domain.CreateResult
	body := map[string]interface{}{"guest_name": name, "module": module}
	err := c.do(ctx, http.MethodPost, c.apiURL("/guest"), body, &result)
	return result, err
}

// UpdateGuest hot-swaps an existing guest's module.
func (c *apiClient) UpdateGuest(ctx context.Context, name string, module []byte) (domain.UpdateResult, error) {
	var result domain.UpdateResult
	body := map[string]interface{}{"guest_name": name, "module": module}
	err := c.do(ctx, http.MethodPut, c.apiURL("/guest"), body, &result)
	return result, err
}

// RemoveGuest removes an existing guest.
func (c *apiClient) RemoveGuest(ctx context.Context, name string) (domain.RemoveResult, error) {
	var result domain.RemoveResult
	err := c.do(ctx, http.MethodDelete, c.apiURL("/guest/"+name), nil, &result)
	return result, err
}

// HealthCheck reports whether the daemon's API is reachable.
func (c *apiClient) HealthCheck(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, c.baseURL+"/health", nil, nil)
	return err == nil
}
