package gains

import "github.com/shopspring/decimal"

// Summary splits realized gains by holding period.
// TotalGain always equals ShortTermGain + LongTermGain.
type Summary struct {
	ShortTermGain decimal.Decimal `json:"shortTermGain"`
	LongTermGain  decimal.Decimal `json:"longTermGain"`
	TotalGain     decimal.Decimal `json:"totalGain"`
}

// Aggregate folds details into a Summary.
func Aggregate(details []GainDetail) Summary {
	short, long := decimal.Zero, decimal.Zero
	for _, d := range details {
		if d.LongTerm {
			long = long.Add(d.Gain)
		} else {
			short = short.Add(d.Gain)
		}
	}
	return Summary{
		ShortTermGain: short,
		LongTermGain:  long,
		TotalGain:     short.Add(long),
	}
}
