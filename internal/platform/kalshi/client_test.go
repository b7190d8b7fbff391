package kalshi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbmonitor/internal/crypto"
	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

const eventBody = `{"event":{"event_ticker":"POPVOTE-24"},"markets":[` +
	`{"ticker":"POPVOTE-24-D","yes_ask":52,"no_ask":48},` +
	`{"ticker":"POPVOTE-24-R","yes_ask":49,"no_ask":51}]}`

func newTestSigner(t *testing.T) (*crypto.Signer, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	s, err := crypto.NewSigner(crypto.Credential{KeyID: "key-123", PrivateKey: key})
	require.NoError(t, err)
	return s, key
}

func TestFetchRawSignsRequest(t *testing.T) {
	signer, key := newTestSigner(t)
	fixed := time.UnixMilli(1730000000123)

	var gotPath, gotKey, gotSig, gotTS string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("KALSHI-ACCESS-KEY")
		gotSig = r.Header.Get("KALSHI-ACCESS-SIGNATURE")
		gotTS = r.Header.Get("KALSHI-ACCESS-TIMESTAMP")
		_, _ = w.Write([]byte(eventBody))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/trade-api/v2", signer, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	assert.Equal(t, domain.VenueKalshi, c.Venue())

	raw, err := c.FetchRaw(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/trade-api/v2/events/POPVOTE-24", gotPath)
	assert.Equal(t, "key-123", gotKey)
	assert.Equal(t, "1730000000123", gotTS)
	assert.NoError(t, crypto.Verify(&key.PublicKey, gotTS+"GET"+gotPath, gotSig))

	assert.Equal(t, domain.VenueKalshi, raw.Venue)
	assert.JSONEq(t, eventBody, string(raw.Body))
	assert.Equal(t, fixed, raw.FetchedAt)
}

func TestFetchRawNon200(t *testing.T) {
	signer, _ := newTestSigner(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"bad signature"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/trade-api/v2", signer)
	require.NoError(t, err)

	_, err = c.FetchRaw(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)

	var se *domain.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, domain.VenueKalshi, se.Venue)
	assert.Contains(t, se.Body, "bad signature")
}

func TestFetchRawTransportFailure(t *testing.T) {
	signer, _ := newTestSigner(t)
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(url+"/trade-api/v2", signer)
	require.NoError(t, err)

	_, err = c.FetchRaw(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)
}

type failingSigner struct{}

func (failingSigner) Sign(string) (string, error) { return "", domain.ErrSigning }
func (failingSigner) KeyID() string               { return "k" }

func TestFetchRawSigningFailureSkipsRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
	defer srv.Close()

	c, err := NewClient(srv.URL, failingSigner{})
	require.NoError(t, err)

	_, err = c.FetchRaw(context.Background())
	assert.ErrorIs(t, err, domain.ErrSigning)
	assert.Zero(t, hits.Load())
}

func TestEventPathCustomTicker(t *testing.T) {
	c, err := NewClient("https://example.com/trade-api/v2/", failingSigner{}, WithEventTicker("PRES-24"))
	require.NoError(t, err)
	assert.Equal(t, "/trade-api/v2/events/PRES-24", c.EventPath())

	_, err = NewClient("not a url", failingSigner{})
	assert.Error(t, err)
}

func TestDecodeEvent(t *testing.T) {
	resp, err := DecodeEvent([]byte(eventBody))
	require.NoError(t, err)
	require.Len(t, resp.Markets, 2)

	m, ok := resp.FindMarket(TickerDemocrat)
	require.True(t, ok)
	require.NotNil(t, m.YesAsk)
	assert.Equal(t, 52, *m.YesAsk)

	_, ok = resp.FindMarket("POPVOTE-24-X")
	assert.False(t, ok)

	_, err = DecodeEvent([]byte(`{"markets":[{"ticker":"POPVOTE-24-D","yes_ask":52.7,"no_ask":48}]}`))
	assert.Error(t, err, "asks are whole cents")

	_, err = DecodeEvent([]byte(`{"event":{}}`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{not json`))
	assert.Error(t, err)
}
