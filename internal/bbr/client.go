package bbr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// Client is an HTTP client for the BBR bygning resource.
// Datafordeler authenticates service users via username/password query
// parameters; there is no token exchange.
type Client struct {
	baseURL    string
	username   string
	password   string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a BBR registry client.
// baseURL is typically "https://services.datafordeler.dk/BBR/BBRPublic/1/rest".
func NewClient(baseURL, username, password, userAgent string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		userAgent:  userAgent,
		httpClient: httpClient,
		logger:     logger,
	}
}

// List fetches one page of buildings. An empty Buildings slice with nil
// error means the registry has no data at or past this page — the caller
// treats that as logical end-of-data.
func (c *Client) List(ctx context.Context, page, pageSize int) (Page, error) {
	query := url.Values{
		"page":     {strconv.Itoa(page)},
		"pagesize": {strconv.Itoa(pageSize)},
	}

	raw, err := c.getJSON(ctx, "/bygning", query)
	if err != nil {
		return Page{}, err
	}

	return c.decodePage(raw, page), nil
}

// Get fetches a single building by its lokalId. Returns ErrNotFound when the
// registry has no record for the id.
func (c *Client) Get(ctx context.Context, bygningID string) (*Building, error) {
	query := url.Values{"Id": {bygningID}}

	raw, err := c.getJSON(ctx, "/bygning", query)
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("bygning %s: %w", bygningID, ErrNotFound)
	}

	var w wireBuilding
	if err := json.Unmarshal(raw[0], &w); err != nil {
		return nil, fmt.Errorf("decoding bygning %s: %w", bygningID, err)
	}

	b := w.building()

	return &b, nil
}

// Ping performs a minimal one-record fetch to verify the endpoint and
// credentials. Used by the doctor command.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.List(ctx, 1, 1)

	return err
}

// getJSON executes a single GET against the registry and decodes the JSON
// array response element-wise. One attempt only; failures come back
// classified for the caller's retry policy.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error) {
	query.Set("username", c.username)
	query.Set("password", c.password)
	query.Set("format", "json")

	reqURL := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bbr: creating request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Context cancellation is the caller's decision, not a transport fault.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("bbr: request canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("bbr: %s: %w", err.Error(), classifyTransport(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bbr: reading response: %w", classifyTransport(err))
	}

	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    truncateBody(body),
			Err:        sentinel,
		}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("bbr: decoding response array: %w", err)
	}

	return raw, nil
}

// decodePage decodes raw array elements into Buildings, skipping and
// counting elements that fail to decode. Registry data quality varies;
// one bad record must not discard the other 499 on the page.
func (c *Client) decodePage(raw []json.RawMessage, page int) Page {
	result := Page{Buildings: make([]Building, 0, len(raw))}

	for i, msg := range raw {
		var w wireBuilding
		if err := json.Unmarshal(msg, &w); err != nil {
			result.Malformed++

			c.logger.Warn("skipping malformed registry record",
				slog.Int("page", page),
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)

			continue
		}

		result.Buildings = append(result.Buildings, w.building())
	}

	return result
}

// maxErrorBody caps how much of an error response body ends up in logs.
const maxErrorBody = 512

func truncateBody(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}

	return string(body)
}
