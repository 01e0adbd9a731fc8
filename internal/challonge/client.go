package challonge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

const defaultBaseURL = "https://api.challonge.com/v1"

// APIError is a non-2xx response from the Challonge API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("challonge: status %d: %s", e.Status, e.Body)
}

// IsUnauthorized reports a bad API key (fatal to the session).
func (e *APIError) IsUnauthorized() bool { return e.Status == http.StatusUnauthorized }

// IsNotFound reports a bad tournament or participant identifier.
func (e *APIError) IsNotFound() bool { return e.Status == http.StatusNotFound }

// IsValidation reports a 422, which several flows tolerate (finalizing an
// already-finalized bracket, renaming to a duplicate tag).
func (e *APIError) IsValidation() bool { return e.Status == http.StatusUnprocessableEntity }

var urlPattern = regexp.MustCompile(`(\w+)?\.?challonge\.com/([^/?#]+)`)

// ExtractID pulls the tournament identifier out of a Challonge URL.
// Subdomain tournaments are addressed as "subdomain-id" by the API.
func ExtractID(tournamentURL string) (string, error) {
	m := urlPattern.FindStringSubmatch(tournamentURL)
	if m == nil || m[2] == "" {
		return "", fmt.Errorf("invalid Challonge URL: %s", tournamentURL)
	}
	if m[1] == "" || m[1] == "www" {
		return m[2], nil
	}
	return m[1] + "-" + m[2], nil
}

// Client is a Challonge v1 API client with rate limiting
type Client struct {
	baseURL    string
	httpClient *http.Client

	// Simple rate limiter
	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

// NewClient creates a new Challonge API client
func NewClient() *Client {
	return &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		minInterval: 100 * time.Millisecond,
	}
}

// doRequest performs an HTTP request with rate limiting
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < c.minInterval {
		time.Sleep(c.minInterval - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	// Handle rate limiting (429)
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		// Wait and retry once
		time.Sleep(1 * time.Second)
		return c.httpClient.Do(req)
	}

	return resp, nil
}

// call performs a request against path and decodes the JSON response into
// result (which may be nil). The API key always travels as a query
// parameter; form holds any additional body fields.
func (c *Client) call(ctx context.Context, method, path, apiKey string, form url.Values, result interface{}) error {
	u := c.baseURL + path + "?api_key=" + url.QueryEscape(apiKey)

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
