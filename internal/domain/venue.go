package domain

import (
	"context"
	"time"
)

// Venue identifies a prediction-market data provider.
type Venue string

const (
	VenueKalshi     Venue = "kalshi"
	VenuePolymarket Venue = "polymarket"
)

// RawPayload is the undecoded response body of one venue request. It lives
// for a single cycle and is discarded once normalized.
type RawPayload struct {
	Venue     Venue
	Body      []byte
	FetchedAt time.Time
}

// VenueClient fetches the tracked event from one venue.
type VenueClient interface {
	Venue() Venue
	FetchRaw(ctx context.Context) (RawPayload, error)
}
