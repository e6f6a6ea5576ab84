package gains

import (
	"fmt"
	"slices"
	"strings"

	"gains-sandbox-go/internal/models"
)

// LotOrdering defines the consumption priority of acquisitions.
type LotOrdering interface {
	// Name returns the method the ordering implements.
	Name() CostBasisMethod

	// Order returns the acquisitions in consumption order, front first.
	// The input slice is not modified.
	Order(buys []models.Trade) ([]models.Trade, error)
}

// Chronological orders by execution time: ascending for FIFO, descending for LIFO.
// Equal timestamps fall back to ascending trade id.
type Chronological struct {
	Descending bool
}

func (c Chronological) Name() CostBasisMethod {
	if c.Descending {
		return LIFO
	}
	return FIFO
}

func (c Chronological) Order(buys []models.Trade) ([]models.Trade, error) {
	out := slices.Clone(buys)
	slices.SortStableFunc(out, func(a, b models.Trade) int {
		if n := a.ExecutedAt.Compare(b.ExecutedAt); n != 0 {
			if c.Descending {
				return -n
			}
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// ByUnitPrice is HIFO: the highest unit price is consumed first.
// Ties fall back to the oldest execution, then trade id.
type ByUnitPrice struct{}

func (ByUnitPrice) Name() CostBasisMethod { return HIFO }

func (ByUnitPrice) Order(buys []models.Trade) ([]models.Trade, error) {
	out := slices.Clone(buys)
	slices.SortStableFunc(out, func(a, b models.Trade) int {
		if n := b.PriceUSD.Cmp(a.PriceUSD); n != 0 {
			return n
		}
		if n := a.ExecutedAt.Compare(b.ExecutedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Explicit is SPEC_ID: lots are consumed in the order of IDs, supplied by the
// caller. Acquisitions not listed are never consumed.
type Explicit struct {
	IDs []string
}

func (Explicit) Name() CostBasisMethod { return SpecID }

// Validate checks the ordering against every acquisition of the user.
func (e Explicit) Validate(buys []models.Trade) error {
	if len(e.IDs) == 0 {
		return ErrMissingLotOrder
	}
	known := make(map[string]struct{}, len(buys))
	for _, b := range buys {
		known[b.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(e.IDs))
	for _, id := range e.IDs {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: %q is not an acquisition", ErrUnknownLot, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %q listed twice", ErrUnknownLot, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (e Explicit) Order(buys []models.Trade) ([]models.Trade, error) {
	if len(e.IDs) == 0 {
		return nil, ErrMissingLotOrder
	}
	byID := make(map[string]models.Trade, len(buys))
	for _, b := range buys {
		byID[b.ID] = b
	}
	out := make([]models.Trade, 0, len(buys))
	for _, id := range e.IDs {
		if b, ok := byID[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// OrderingFor returns the ordering for method. lotOrder is only used by SPEC_ID.
func OrderingFor(method CostBasisMethod, lotOrder []string) (LotOrdering, error) {
	switch method {
	case FIFO:
		return Chronological{}, nil
	case LIFO:
		return Chronological{Descending: true}, nil
	case HIFO:
		return ByUnitPrice{}, nil
	case SpecID:
		if len(lotOrder) == 0 {
			return nil, ErrMissingLotOrder
		}
		return Explicit{IDs: lotOrder}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}
