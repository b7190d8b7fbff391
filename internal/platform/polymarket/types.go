package polymarket

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

// Question substrings identifying the two tracked popular-vote markets.
const (
	QuestionDemocrat   = "Kamala Harris"
	QuestionRepublican = "Donald Trump"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID      string       `json:"id"`
	Title   string       `json:"title"`
	Slug    string       `json:"slug"`
	Active  flexBool     `json:"active"`
	Closed  bool         `json:"closed"`
	Markets *[]APIMarket `json:"markets"`
}

// APIMarket is one market of an event. OutcomePrices is a JSON-encoded
// string, e.g. "[\"0.51\", \"0.49\"]", ordered [yes, no].
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Active        flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	OutcomePrices *string  `json:"outcomePrices"`
}

// DecodeEvent decodes an event body. A body without a markets array is
// rejected.
func DecodeEvent(body []byte) (APIEvent, error) {
	var ev APIEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: decode event: %w", err)
	}
	if ev.Markets == nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: decode event: markets array missing")
	}
	return ev, nil
}

// MatchMarkets returns every market whose question contains substr, in
// response order. Matching is case-sensitive.
func (e APIEvent) MatchMarkets(substr string) []APIMarket {
	if e.Markets == nil {
		return nil
	}
	var out []APIMarket
	for _, m := range *e.Markets {
		if strings.Contains(m.Question, substr) {
			out = append(out, m)
		}
	}
	return out
}

// ParseOutcomePrices parses a Gamma outcomePrices string into its yes and no
// prices. The value must be a bracketed list of exactly two decimals, each
// optionally quoted and each within [0,1]. Any other shape yields an error
// wrapping domain.ErrPriceParse.
func ParseOutcomePrices(s string) (yes, no float64, err error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return 0, 0, fmt.Errorf("%w: outcomePrices %q is not a bracketed list", domain.ErrPriceParse, s)
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: outcomePrices %q has %d values, want 2", domain.ErrPriceParse, s, len(parts))
	}

	vals := make([]float64, 2)
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"' {
			p = strings.TrimSpace(p[1 : len(p)-1])
		}
		v, perr := strconv.ParseFloat(p, 64)
		if perr != nil {
			return 0, 0, fmt.Errorf("%w: outcomePrices value %q: %v", domain.ErrPriceParse, p, perr)
		}
		if math.IsNaN(v) || v < 0 || v > 1 {
			return 0, 0, fmt.Errorf("%w: outcomePrices value %v outside [0,1]", domain.ErrPriceParse, v)
		}
		vals[i] = v
	}
	return vals[0], vals[1], nil
}
