// Package dawa provides a client for the DAWA address service
// (api.dataforsyningen.dk). BBR building records reference a DAR husnummer
// UUID; DAWA resolves it to a postal address and WGS84 coordinates. The
// service is public and unauthenticated.
package dawa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/text/unicode/norm"
)

// ErrNotFound means the address id has no record in DAWA. Husnummer
// references in BBR can be stale or point at retired addresses.
var ErrNotFound = errors.New("dawa: address not found")

// Point is a GeoJSON point. DAWA koordinater are [longitude, latitude].
type Point struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// Address is a resolved access address.
type Address struct {
	Betegnelse string // full display address
	Vejnavn    string
	Husnummer  string
	Postnummer string
	Location   *Point
}

// LocationJSON renders the coordinate point as a GeoJSON string for
// storage, or "" when no coordinates are known.
func (a *Address) LocationJSON() string {
	if a == nil || a.Location == nil {
		return ""
	}

	b, err := json.Marshal(a.Location)
	if err != nil {
		return ""
	}

	return string(b)
}

// wireAddress mirrors the DAWA adgangsadresse JSON shape.
type wireAddress struct {
	Betegnelse string `json:"adressebetegnelse"`
	Husnr      string `json:"husnr"`
	Vejstykke  struct {
		Navn string `json:"navn"`
	} `json:"vejstykke"`
	Postnummer struct {
		Nr string `json:"nr"`
	} `json:"postnummer"`
	Adgangspunkt struct {
		Koordinater []float64 `json:"koordinater"`
	} `json:"adgangspunkt"`
}

// Client looks up access addresses on DAWA.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a DAWA client. baseURL is typically
// "https://api.dataforsyningen.dk".
func NewClient(baseURL, userAgent string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Lookup resolves a husnummer UUID to an address. Returns ErrNotFound when
// DAWA has no record for the id; other errors are transport or server
// failures the caller may treat as soft (store the record without address).
func (c *Client) Lookup(ctx context.Context, husnummerID string) (*Address, error) {
	reqURL := c.baseURL + "/adgangsadresser/" + husnummerID

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var w wireAddress
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("dawa: decoding address %s: %w", husnummerID, err)
	}

	addr := &Address{
		// Danish street names mix composed and decomposed forms across
		// sources; normalize to NFC so stored values compare stably.
		Betegnelse: norm.NFC.String(w.Betegnelse),
		Vejnavn:    norm.NFC.String(w.Vejstykke.Navn),
		Husnummer:  w.Husnr,
		Postnummer: w.Postnummer.Nr,
	}

	if len(w.Adgangspunkt.Koordinater) == 2 {
		addr.Location = &Point{
			Type:        "Point",
			Coordinates: [2]float64{w.Adgangspunkt.Koordinater[0], w.Adgangspunkt.Koordinater[1]},
		}
	}

	return addr, nil
}

// Ping verifies the DAWA endpoint responds. Used by the doctor command.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, c.baseURL+"/adgangsadresser?per_side=1")

	return err
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dawa: creating request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dawa: request canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("dawa: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, ErrNotFound
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dawa: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dawa: reading response: %w", err)
	}

	return body, nil
}
