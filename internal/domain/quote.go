package domain

import "time"

// QuotePair holds the yes/no ask prices of both tracked outcomes on one
// venue, as probabilities in [0,1]. Outcome A is the Democratic candidate and
// outcome B the Republican candidate. Yes and no are quoted independently, so
// AYes+ANo is not expected to equal 1.
type QuotePair struct {
	AYes float64 `json:"a_yes"`
	ANo  float64 `json:"a_no"`
	BYes float64 `json:"b_yes"`
	BNo  float64 `json:"b_no"`
}

// Spreads are the two cross-venue arbitrage returns, in percent, rounded to
// two decimal places.
type Spreads struct {
	NoSpreadReturnPct    float64 `json:"no_spread_return_pct"`
	YesNoSpreadReturnPct float64 `json:"yes_no_spread_return_pct"`
}

// Observation is one row of the arbitrage time series. It is immutable once
// written.
type Observation struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Kalshi     QuotePair `json:"kalshi"`
	Polymarket QuotePair `json:"polymarket"`
	Spreads
}
