package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

const (
	// DefaultBaseURL is the Kalshi elections API root.
	DefaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"
	// DefaultEventTicker is the 2024 popular-vote event.
	DefaultEventTicker = "POPVOTE-24"

	maxErrorBody = 512
)

// RequestSigner signs the Kalshi auth message. *crypto.Signer implements it.
type RequestSigner interface {
	Sign(message string) (string, error)
	KeyID() string
}

// Client is the REST client for the Kalshi exchange API. It fetches a single
// event per request and signs every request with the configured signer.
type Client struct {
	baseURL     string
	basePath    string
	eventTicker string
	signer      RequestSigner
	httpClient  *http.Client
	now         func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEventTicker selects the event to fetch.
func WithEventTicker(ticker string) Option {
	return func(c *Client) { c.eventTicker = ticker }
}

// WithClock overrides the clock used for the auth timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// The path component of baseURL is part of the signed message.
func NewClient(baseURL string, signer RequestSigner, opts ...Option) (*Client, error) {
	if signer == nil {
		return nil, fmt.Errorf("kalshi: signer is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("kalshi: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("kalshi: base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:     u.Scheme + "://" + u.Host,
		basePath:    u.Path,
		eventTicker: DefaultEventTicker,
		signer:      signer,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Venue implements domain.VenueClient.
func (c *Client) Venue() domain.Venue {
	return domain.VenueKalshi
}

// EventPath returns the request path that is signed and sent for the
// configured event.
func (c *Client) EventPath() string {
	return c.basePath + "/events/" + url.PathEscape(c.eventTicker)
}

// FetchRaw performs one signed GET of the configured event and returns the
// response body undecoded.
func (c *Client) FetchRaw(ctx context.Context) (domain.RawPayload, error) {
	body, err := c.doSignedGet(ctx, c.EventPath())
	if err != nil {
		return domain.RawPayload{}, fmt.Errorf("kalshi: get event %s: %w", c.eventTicker, err)
	}
	return domain.RawPayload{
		Venue:     domain.VenueKalshi,
		Body:      body,
		FetchedAt: c.now(),
	}, nil
}

// doSignedGet builds, signs (RSA-PSS), sends, and reads a GET request.
func (c *Client) doSignedGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if err := c.signRequest(req, http.MethodGet, path); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrNetwork, err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// signRequest adds the Kalshi auth headers. The signed message is
// timestamp + method + path, and the timestamp header carries exactly the
// string that was signed.
func (c *Client) signRequest(req *http.Request, method, path string) error {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)

	sig, err := c.signer.Sign(ts + method + path)
	if err != nil {
		return err
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.signer.KeyID())
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", sig)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}

// checkStatus maps any non-200 answer to a *domain.StatusError.
func checkStatus(statusCode int, body []byte) error {
	if statusCode == http.StatusOK {
		return nil
	}

	msg := ""
	var apiErr ErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
		if apiErr.Error.Code != "" {
			msg += " (" + apiErr.Error.Code + ")"
		}
	} else if len(body) > 0 {
		msg = string(body)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
	}

	return &domain.StatusError{Venue: domain.VenueKalshi, StatusCode: statusCode, Body: msg}
}
