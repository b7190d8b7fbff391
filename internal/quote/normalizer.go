// Package quote turns the two venue payloads into comparable QuotePairs.
package quote

import (
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
	"github.com/alanyoungcy/arbmonitor/internal/platform/kalshi"
	"github.com/alanyoungcy/arbmonitor/internal/platform/polymarket"
)

// Selectors name the markets that carry outcome A and outcome B on each
// venue.
type Selectors struct {
	KalshiTickerA       string
	KalshiTickerB       string
	PolymarketQuestionA string
	PolymarketQuestionB string
}

// DefaultSelectors tracks the 2024 popular-vote markets.
func DefaultSelectors() Selectors {
	return Selectors{
		KalshiTickerA:       kalshi.TickerDemocrat,
		KalshiTickerB:       kalshi.TickerRepublican,
		PolymarketQuestionA: polymarket.QuestionDemocrat,
		PolymarketQuestionB: polymarket.QuestionRepublican,
	}
}

// Normalizer decodes venue payloads. When several markets match a
// selector the first one in response order wins.
type Normalizer struct {
	sel    Selectors
	logger *slog.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(sel Selectors, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{sel: sel, logger: logger}
}

// Normalize decodes the Kalshi payload rawA and the Polymarket payload rawB.
func (n *Normalizer) Normalize(rawA, rawB domain.RawPayload) (domain.QuotePair, domain.QuotePair, error) {
	if rawA.Venue != domain.VenueKalshi || rawB.Venue != domain.VenuePolymarket {
		return domain.QuotePair{}, domain.QuotePair{}, fmt.Errorf("quote: unexpected venues %q/%q", rawA.Venue, rawB.Venue)
	}
	kq, err := n.Kalshi(rawA.Body)
	if err != nil {
		return domain.QuotePair{}, domain.QuotePair{}, err
	}
	pq, err := n.Polymarket(rawB.Body)
	if err != nil {
		return domain.QuotePair{}, domain.QuotePair{}, err
	}
	return kq, pq, nil
}

// Kalshi extracts the ask prices of both outcomes from an event body.
func (n *Normalizer) Kalshi(body []byte) (domain.QuotePair, error) {
	ev, err := kalshi.DecodeEvent(body)
	if err != nil {
		return domain.QuotePair{}, fmt.Errorf("quote: %w: %v", domain.ErrPriceParse, err)
	}

	aYes, aNo, err := n.kalshiMarket(ev, n.sel.KalshiTickerA)
	if err != nil {
		return domain.QuotePair{}, err
	}
	bYes, bNo, err := n.kalshiMarket(ev, n.sel.KalshiTickerB)
	if err != nil {
		return domain.QuotePair{}, err
	}
	return domain.QuotePair{AYes: aYes, ANo: aNo, BYes: bYes, BNo: bNo}, nil
}

func (n *Normalizer) kalshiMarket(ev kalshi.EventResponse, ticker string) (float64, float64, error) {
	m, ok := ev.FindMarket(ticker)
	if !ok {
		return 0, 0, fmt.Errorf("quote: kalshi %s: %w", ticker, domain.ErrMarketNotFound)
	}
	if m.YesAsk == nil || m.NoAsk == nil {
		return 0, 0, fmt.Errorf("quote: kalshi %s: %w: yes_ask/no_ask missing", ticker, domain.ErrPriceParse)
	}
	if *m.YesAsk < 0 || *m.YesAsk > 100 || *m.NoAsk < 0 || *m.NoAsk > 100 {
		return 0, 0, fmt.Errorf("quote: kalshi %s: %w: asks %d/%d outside 0-100 cents", ticker, domain.ErrPriceParse, *m.YesAsk, *m.NoAsk)
	}
	return float64(*m.YesAsk) / 100, float64(*m.NoAsk) / 100, nil
}

// Polymarket extracts the [yes, no] outcome prices of both outcomes from a
// Gamma event body.
func (n *Normalizer) Polymarket(body []byte) (domain.QuotePair, error) {
	ev, err := polymarket.DecodeEvent(body)
	if err != nil {
		return domain.QuotePair{}, fmt.Errorf("quote: %w: %v", domain.ErrPriceParse, err)
	}

	aYes, aNo, err := n.polymarketMarket(ev, n.sel.PolymarketQuestionA)
	if err != nil {
		return domain.QuotePair{}, err
	}
	bYes, bNo, err := n.polymarketMarket(ev, n.sel.PolymarketQuestionB)
	if err != nil {
		return domain.QuotePair{}, err
	}
	return domain.QuotePair{AYes: aYes, ANo: aNo, BYes: bYes, BNo: bNo}, nil
}

func (n *Normalizer) polymarketMarket(ev polymarket.APIEvent, question string) (float64, float64, error) {
	matches := ev.MatchMarkets(question)
	if len(matches) == 0 {
		return 0, 0, fmt.Errorf("quote: polymarket %q: %w", question, domain.ErrMarketNotFound)
	}
	if len(matches) > 1 {
		n.logger.Debug("multiple polymarket markets match, using first",
			slog.String("question", question),
			slog.Int("matches", len(matches)),
			slog.String("market_id", matches[0].ID),
		)
	}

	m := matches[0]
	if m.OutcomePrices == nil {
		return 0, 0, fmt.Errorf("quote: polymarket %q: %w: outcomePrices missing", question, domain.ErrPriceParse)
	}
	yes, no, err := polymarket.ParseOutcomePrices(*m.OutcomePrices)
	if err != nil {
		return 0, 0, fmt.Errorf("quote: polymarket %q: %w", question, err)
	}
	return yes, no, nil
}
