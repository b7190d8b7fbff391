package polymarket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

const eventBody = `{"id":"903216","title":"Popular Vote Winner 2024","markets":[` +
	`{"id":"1","question":"Will Kamala Harris win the popular vote in 2024?","outcomePrices":"[\"0.51\", \"0.49\"]"},` +
	`{"id":"2","question":"Will Donald Trump win the popular vote in 2024?","outcomePrices":"[\"0.48\", \"0.52\"]","active":"true"}]}`

func TestFetchRaw(t *testing.T) {
	var gotPath string
	var gotAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization") != "" || r.Header.Get("KALSHI-ACCESS-KEY") != ""
		_, _ = w.Write([]byte(eventBody))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL + "/")
	assert.Equal(t, domain.VenuePolymarket, g.Venue())

	raw, err := g.FetchRaw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/events/903216", gotPath)
	assert.False(t, gotAuth)
	assert.Equal(t, domain.VenuePolymarket, raw.Venue)
	assert.Equal(t, eventBody, string(raw.Body))
}

func TestFetchRawNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewGammaClient(srv.URL, WithEventID("42")).FetchRaw(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)

	var se *domain.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, domain.VenuePolymarket, se.Venue)
}

func TestDecodeEventAndMatch(t *testing.T) {
	ev, err := DecodeEvent([]byte(eventBody))
	require.NoError(t, err)
	assert.True(t, bool((*ev.Markets)[1].Active))

	dem := ev.MatchMarkets(QuestionDemocrat)
	require.Len(t, dem, 1)
	assert.Equal(t, "1", dem[0].ID)

	assert.Empty(t, ev.MatchMarkets("kamala harris"))

	_, err = DecodeEvent([]byte(`{"id":"1"}`))
	assert.Error(t, err)
}

func TestParseOutcomePrices(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		yes, no float64
		wantErr bool
	}{
		{name: "quoted", in: `["0.51", "0.49"]`, yes: 0.51, no: 0.49},
		{name: "unquoted", in: `[0.3,0.7]`, yes: 0.3, no: 0.7},
		{name: "bounds", in: ` ["0", "1"] `, yes: 0, no: 1},
		{name: "missing brackets", in: `"0.5", "0.5"`, wantErr: true},
		{name: "missing closing bracket", in: `["0.5","0.5"`, wantErr: true},
		{name: "missing opening bracket", in: `"0.5","0.5"]`, wantErr: true},
		{name: "one value", in: `["0.5"]`, wantErr: true},
		{name: "three values", in: `["0.5","0.3","0.2"]`, wantErr: true},
		{name: "non numeric", in: `["abc","0.5"]`, wantErr: true},
		{name: "above one", in: `["1.2","0.5"]`, wantErr: true},
		{name: "negative", in: `["-0.1","0.5"]`, wantErr: true},
		{name: "nan", in: `["NaN","0.5"]`, wantErr: true},
		{name: "empty", in: ``, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yes, no, err := ParseOutcomePrices(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrPriceParse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.yes, yes)
			assert.Equal(t, tt.no, no)
		})
	}
}
