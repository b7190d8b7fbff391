package polymarket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

const (
	// DefaultGammaURL is the Gamma API root.
	DefaultGammaURL = "https://gamma-api.polymarket.com"
	// DefaultEventID is the 2024 popular-vote winner event.
	DefaultEventID = "903216"

	maxErrorBody = 512
)

// GammaClient is the REST client for the Polymarket Gamma API. Gamma is
// public, so requests carry no credentials.
type GammaClient struct {
	baseURL    string
	eventID    string
	httpClient *http.Client
	now        func() time.Time
}

// GammaOption customizes a GammaClient.
type GammaOption func(*GammaClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) GammaOption {
	return func(g *GammaClient) { g.httpClient = hc }
}

// WithEventID selects the event to fetch.
func WithEventID(id string) GammaOption {
	return func(g *GammaClient) { g.eventID = id }
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, opts ...GammaOption) *GammaClient {
	g := &GammaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		eventID: DefaultEventID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Venue implements domain.VenueClient.
func (g *GammaClient) Venue() domain.Venue {
	return domain.VenuePolymarket
}

// FetchRaw fetches the configured event and returns the body undecoded.
func (g *GammaClient) FetchRaw(ctx context.Context) (domain.RawPayload, error) {
	path := fmt.Sprintf("/events/%s", url.PathEscape(g.eventID))

	body, err := g.doGet(ctx, path)
	if err != nil {
		return domain.RawPayload{}, fmt.Errorf("polymarket/gamma: get event %s: %w", g.eventID, err)
	}
	return domain.RawPayload{
		Venue:     domain.VenuePolymarket,
		Body:      body,
		FetchedAt: g.now(),
	}, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrNetwork, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode == http.StatusOK {
		return nil
	}
	msg := string(body)
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	return &domain.StatusError{Venue: domain.VenuePolymarket, StatusCode: statusCode, Body: msg}
}
