package gains

import (
	"fmt"
	"strings"
)

// CostBasisMethod selects which acquisitions a disposal consumes first.
type CostBasisMethod string

const (
	FIFO   CostBasisMethod = "FIFO"
	LIFO   CostBasisMethod = "LIFO"
	HIFO   CostBasisMethod = "HIFO"
	SpecID CostBasisMethod = "SPEC_ID"
)

func (m CostBasisMethod) String() string {
	return string(m)
}

// ParseMethod parses a method name case-insensitively.
func ParseMethod(s string) (CostBasisMethod, error) {
	m := CostBasisMethod(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case FIFO, LIFO, HIFO, SpecID:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// OversoldPolicy decides what happens when disposals exceed the available lots.
type OversoldPolicy string

const (
	// OversoldError fails the calculation.
	OversoldError OversoldPolicy = "error"
	// OversoldZeroBasis realizes the uncovered remainder with a zero cost basis.
	OversoldZeroBasis OversoldPolicy = "zero_basis"
)

// ParseOversoldPolicy parses a policy name. The empty string selects OversoldError.
func ParseOversoldPolicy(s string) (OversoldPolicy, error) {
	switch p := OversoldPolicy(strings.ToLower(s)); p {
	case "", OversoldError:
		return OversoldError, nil
	case OversoldZeroBasis:
		return p, nil
	default:
		return "", fmt.Errorf("unknown oversold policy: %q", s)
	}
}

// LotEligibility decides which lots a disposal may draw from.
type LotEligibility string

const (
	// EligibleAny draws the front lot of the ordering whatever its date.
	EligibleAny LotEligibility = "any"
	// EligiblePrior skips lots acquired after the disposal.
	EligiblePrior LotEligibility = "prior"
)

// ParseLotEligibility parses an eligibility name. The empty string selects EligibleAny.
func ParseLotEligibility(s string) (LotEligibility, error) {
	switch e := LotEligibility(strings.ToLower(s)); e {
	case "", EligibleAny:
		return EligibleAny, nil
	case EligiblePrior:
		return e, nil
	default:
		return "", fmt.Errorf("unknown lot eligibility: %q", s)
	}
}
