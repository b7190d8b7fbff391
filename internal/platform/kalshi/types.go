package kalshi

import (
	"encoding/json"
	"fmt"
)

// Market tickers of the two tracked popular-vote outcomes.
const (
	TickerDemocrat   = "POPVOTE-24-D"
	TickerRepublican = "POPVOTE-24-R"
)

// EventResponse is the body of GET /events/{event_ticker}. Only the fields
// the monitor reads are decoded.
type EventResponse struct {
	Event   *Event   `json:"event,omitempty"`
	Markets []Market `json:"markets"`
}

// Event carries the event header.
type Event struct {
	EventTicker string `json:"event_ticker"`
	Title       string `json:"title"`
}

// Market is one market of the event. Prices are integer cents (1-99); a
// fractional value fails decoding. They are pointers so a missing field can
// be told apart from a zero price.
type Market struct {
	Ticker string `json:"ticker"`
	Status string `json:"status"`
	YesAsk *int   `json:"yes_ask"`
	NoAsk  *int   `json:"no_ask"`
}

// ErrorResponse represents a Kalshi API error response.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeEvent decodes an event body. A body without a markets array is
// rejected.
func DecodeEvent(body []byte) (EventResponse, error) {
	var raw struct {
		EventResponse
		Markets *[]Market `json:"markets"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return EventResponse{}, fmt.Errorf("kalshi: decode event: %w", err)
	}
	if raw.Markets == nil {
		return EventResponse{}, fmt.Errorf("kalshi: decode event: markets array missing")
	}
	resp := raw.EventResponse
	resp.Markets = *raw.Markets
	return resp, nil
}

// FindMarket returns the first market whose ticker equals ticker.
func (r EventResponse) FindMarket(ticker string) (Market, bool) {
	for _, m := range r.Markets {
		if m.Ticker == ticker {
			return m, true
		}
	}
	return Market{}, false
}
