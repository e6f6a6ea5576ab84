// Package gains matches disposals against acquisition lots and summarizes the
// realized gains under a cost-basis method.
package gains

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"gains-sandbox-go/internal/models"

	"github.com/shopspring/decimal"
)

// LongTermDays is the holding period a lot must exceed to be long-term.
const LongTermDays = 365

// GainDetail is the gain realized by one disposal against one lot.
type GainDetail struct {
	TradeID     string          `json:"tradeId"`
	LotTradeID  string          `json:"lotTradeId,omitempty"`
	Asset       string          `json:"asset,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Proceeds    decimal.Decimal `json:"proceedsUsd"`
	CostBasis   decimal.Decimal `json:"basisUsd"`
	Gain        decimal.Decimal `json:"gainUsd"`
	HoldingDays int             `json:"holdingPeriodDays"`
	LongTerm    bool            `json:"longTerm"`
}

// Result is the output of one calculation.
type Result struct {
	Summary Summary      `json:"summary"`
	Details []GainDetail `json:"details"`
}

// Engine runs the lot-matching algorithm. The zero value fails on oversold
// disposals and draws the front lot of the ordering.
type Engine struct {
	Oversold    OversoldPolicy
	Eligibility LotEligibility
}

// NewEngine creates an engine with the given oversold policy.
func NewEngine(policy OversoldPolicy) *Engine {
	return &Engine{Oversold: policy}
}

// Calculate matches the trades under method and aggregates the details.
// lotOrder is required for SPEC_ID and ignored otherwise.
func (e *Engine) Calculate(trades []models.Trade, method CostBasisMethod, lotOrder []string) (*Result, error) {
	ordering, err := OrderingFor(method, lotOrder)
	if err != nil {
		return nil, err
	}
	details, err := e.Match(trades, ordering)
	if err != nil {
		return nil, err
	}
	return &Result{Summary: Aggregate(details), Details: details}, nil
}

// Match produces one detail per (disposal, lot) pair consumed. Each asset is
// matched independently, assets in name order; within an asset disposals are
// processed chronologically regardless of the ordering.
func (e *Engine) Match(trades []models.Trade, ordering LotOrdering) ([]GainDetail, error) {
	if err := validateTrades(trades); err != nil {
		return nil, err
	}

	if v, ok := ordering.(interface{ Validate([]models.Trade) error }); ok {
		var buys []models.Trade
		for _, t := range trades {
			if t.IsAcquisition() {
				buys = append(buys, t)
			}
		}
		if err := v.Validate(buys); err != nil {
			return nil, err
		}
	}

	byAsset := make(map[string][]models.Trade)
	for _, t := range trades {
		byAsset[t.Asset] = append(byAsset[t.Asset], t)
	}
	assets := make([]string, 0, len(byAsset))
	for a := range byAsset {
		assets = append(assets, a)
	}
	slices.Sort(assets)

	details := []GainDetail{}
	for _, asset := range assets {
		var err error
		details, err = e.matchAsset(details, byAsset[asset], ordering)
		if err != nil {
			return nil, err
		}
	}
	return details, nil
}

// lot is an acquisition being drawn down during one matching pass.
type lot struct {
	trade     *models.Trade
	remaining decimal.Decimal
	feeLeft   decimal.Decimal
}

func (e *Engine) matchAsset(details []GainDetail, trades []models.Trade, ordering LotOrdering) ([]GainDetail, error) {
	var buys, sells []models.Trade
	for _, t := range trades {
		if t.IsAcquisition() {
			buys = append(buys, t)
		} else {
			sells = append(sells, t)
		}
	}

	ordered, err := ordering.Order(buys)
	if err != nil {
		return nil, err
	}
	arena := make([]lot, len(ordered))
	for i := range ordered {
		arena[i] = lot{trade: &ordered[i], remaining: ordered[i].Quantity, feeLeft: ordered[i].FeeUSD}
	}
	head := 0

	slices.SortStableFunc(sells, func(a, b models.Trade) int {
		if n := a.ExecutedAt.Compare(b.ExecutedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})

	for i := range sells {
		sell := &sells[i]
		sellQty := sell.Quantity.Neg()
		need := sellQty
		sellFeeLeft := sell.FeeUSD

		for need.IsPositive() {
			for head < len(arena) && !arena[head].remaining.IsPositive() {
				head++
			}
			l := e.nextLot(arena, head, sell.ExecutedAt)
			if l == nil {
				break
			}

			matched := decimal.Min(need, l.remaining)

			var lotFee decimal.Decimal
			if matched.Equal(l.remaining) {
				lotFee = l.feeLeft
			} else {
				lotFee = l.trade.FeeUSD.Mul(matched).Div(l.trade.Quantity)
			}
			var sellFee decimal.Decimal
			if matched.Equal(need) {
				sellFee = sellFeeLeft
			} else {
				sellFee = sell.FeeUSD.Mul(matched).Div(sellQty)
			}

			costBasis := matched.Mul(l.trade.PriceUSD).Add(lotFee)
			proceeds := matched.Mul(sell.PriceUSD).Sub(sellFee)
			days := holdingDays(l.trade.ExecutedAt, sell.ExecutedAt)

			details = append(details, GainDetail{
				TradeID:     sell.ID,
				LotTradeID:  l.trade.ID,
				Asset:       sell.Asset,
				Quantity:    matched,
				Proceeds:    proceeds,
				CostBasis:   costBasis,
				Gain:        proceeds.Sub(costBasis),
				HoldingDays: days,
				LongTerm:    days > LongTermDays,
			})

			l.remaining = l.remaining.Sub(matched)
			l.feeLeft = l.feeLeft.Sub(lotFee)
			need = need.Sub(matched)
			sellFeeLeft = sellFeeLeft.Sub(sellFee)
		}

		if need.IsPositive() {
			if e.Oversold != OversoldZeroBasis {
				return nil, fmt.Errorf("%w: trade %s short by %s %s", ErrInsufficientLots, sell.ID, need, sell.Asset)
			}
			proceeds := need.Mul(sell.PriceUSD).Sub(sellFeeLeft)
			details = append(details, GainDetail{
				TradeID:   sell.ID,
				Asset:     sell.Asset,
				Quantity:  need,
				Proceeds:  proceeds,
				CostBasis: decimal.Zero,
				Gain:      proceeds,
			})
		}
	}

	return details, nil
}

// nextLot returns the lot a disposal at time at draws next, or nil when none
// remains. Under EligiblePrior lots acquired after at are skipped.
func (e *Engine) nextLot(arena []lot, head int, at time.Time) *lot {
	for i := head; i < len(arena); i++ {
		if !arena[i].remaining.IsPositive() {
			continue
		}
		if e.Eligibility == EligiblePrior && arena[i].trade.ExecutedAt.After(at) {
			continue
		}
		return &arena[i]
	}
	return nil
}

// holdingDays rounds the elapsed time to the nearest whole day.
func holdingDays(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Hours() / 24))
}

func validateTrades(trades []models.Trade) error {
	seen := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		switch {
		case t.ID == "":
			return fmt.Errorf("%w: missing id", ErrMalformedTrade)
		case t.Quantity.IsZero():
			return fmt.Errorf("%w: trade %s has zero quantity", ErrMalformedTrade, t.ID)
		case t.PriceUSD.IsNegative():
			return fmt.Errorf("%w: trade %s has negative price", ErrMalformedTrade, t.ID)
		case t.FeeUSD.IsNegative():
			return fmt.Errorf("%w: trade %s has negative fee", ErrMalformedTrade, t.ID)
		case t.ExecutedAt.IsZero():
			return fmt.Errorf("%w: trade %s has no execution time", ErrMalformedTrade, t.ID)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: duplicate trade id %s", ErrMalformedTrade, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}
