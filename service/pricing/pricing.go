// Package pricing turns an image count and model into a SOL price.
package pricing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

const (
	// DefaultModel prices unknown models.
	DefaultModel = "sd35-medium"

	MinCount = 1
	MaxCount = 10_000

	lamportsPerSOL = 1_000_000_000
)

var (
	creditEUR   = decimal.RequireFromString("0.01")
	lamportsDec = decimal.NewFromInt(lamportsPerSOL)
	bpsDenom    = decimal.NewFromInt(10_000)
)

// modelCredits is the per-image credit cost of each generation model.
var modelCredits = map[string]decimal.Decimal{
	"sd35-large":       decimal.RequireFromString("6.5"),
	"sd35-large-turbo": decimal.NewFromInt(4),
	"sd35-medium":      decimal.RequireFromString("3.5"),
	"sd35-flash":       decimal.RequireFromString("2.5"),
	"sdxl-1.0":         decimal.RequireFromString("0.9"),
}

// Models returns the known model names, sorted.
func Models() []string {
	out := make([]string, 0, len(modelCredits))
	for m := range modelCredits {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// KnownModel reports whether model has its own price.
func KnownModel(model string) bool {
	_, ok := modelCredits[model]
	return ok
}

// Quote is the price of one generation request.
// Display amounts are rounded; Lamports is computed from the unrounded SOL value.
type Quote struct {
	Model    string          `json:"model"`
	Count    int             `json:"count"`
	Credits  decimal.Decimal `json:"credits"`
	EUR      decimal.Decimal `json:"eur"`
	USD      decimal.Decimal `json:"usd"`
	SOL      decimal.Decimal `json:"sol"`
	Lamports int64           `json:"lamports"`
}

// Rates are the exchange rates and the price floor used to build a quote.
type Rates struct {
	EURUSD      decimal.Decimal
	SOLUSD      decimal.Decimal
	MinLamports uint64
}

// NewRates validates and converts float configuration values.
func NewRates(eurUSD, solUSD float64, minLamports uint64) (Rates, error) {
	if eurUSD <= 0 || solUSD <= 0 {
		return Rates{}, fmt.Errorf("exchange rates must be positive (eur_usd=%v sol_usd=%v)", eurUSD, solUSD)
	}
	return Rates{
		EURUSD:      decimal.NewFromFloat(eurUSD),
		SOLUSD:      decimal.NewFromFloat(solUSD),
		MinLamports: minLamports,
	}, nil
}

// Pricer computes quotes from a fixed set of rates.
type Pricer struct {
	rates        Rates
	defaultModel string
}

// NewPricer creates a Pricer. An empty or unknown defaultModel falls back to DefaultModel.
func NewPricer(rates Rates, defaultModel string) *Pricer {
	if !KnownModel(defaultModel) {
		defaultModel = DefaultModel
	}
	return &Pricer{rates: rates, defaultModel: defaultModel}
}

// DefaultModel is the model used when a request names none.
func (p *Pricer) DefaultModel() string {
	return p.defaultModel
}

// Quote prices count images of model. count is clamped to [MinCount, MaxCount];
// unknown models are priced as DefaultModel but keep their name in the quote.
// The same inputs always give the same quote, and more images never cost less.
func (p *Pricer) Quote(count int, model string) Quote {
	if model == "" {
		model = p.defaultModel
	}
	perImage, ok := modelCredits[model]
	if !ok {
		perImage = modelCredits[DefaultModel]
	}
	count = min(max(count, MinCount), MaxCount)

	credits := perImage.Mul(decimal.NewFromInt(int64(count)))
	eur := credits.Mul(creditEUR)
	usd := eur.Mul(p.rates.EURUSD)
	sol := usd.DivRound(p.rates.SOLUSD, 18)

	minSOL := decimal.NewFromInt(int64(p.rates.MinLamports)).Div(lamportsDec)
	if sol.LessThan(minSOL) {
		sol = minSOL
	}

	return Quote{
		Model:    model,
		Count:    count,
		Credits:  credits.Round(2),
		EUR:      eur.Round(2),
		USD:      usd.Round(2),
		SOL:      sol.Round(6),
		Lamports: sol.Mul(lamportsDec).Round(0).IntPart(),
	}
}

// WithinTolerance reports whether a client-supplied lamport amount is within
// bps basis points of the server quote. Amounts above the quote always pass.
func WithinTolerance(clientLamports, quotedLamports int64, bps int) bool {
	if clientLamports <= 0 || quotedLamports <= 0 {
		return false
	}
	if clientLamports >= quotedLamports {
		return true
	}
	allowed := decimal.NewFromInt(quotedLamports).
		Mul(decimal.NewFromInt(int64(max(bps, 0)))).
		Div(bpsDenom)
	shortfall := decimal.NewFromInt(quotedLamports - clientLamports)
	return shortfall.LessThanOrEqual(allowed)
}
