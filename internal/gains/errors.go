package gains

import "errors"

var (
	// ErrUnknownMethod is returned for a method name outside FIFO, LIFO, HIFO and SPEC_ID.
	ErrUnknownMethod = errors.New("unknown cost basis method")

	// ErrMissingLotOrder is returned when SPEC_ID is requested without an explicit lot ordering.
	ErrMissingLotOrder = errors.New("SPEC_ID requires an explicit lot ordering")

	// ErrUnknownLot is returned when an explicit ordering names a trade that is
	// not an acquisition of the user, or names one twice.
	ErrUnknownLot = errors.New("lot ordering does not match the user's acquisitions")

	// ErrMalformedTrade is returned for trades the engine cannot interpret.
	ErrMalformedTrade = errors.New("malformed trade")

	// ErrInsufficientLots is returned when a disposal exceeds the lots available to it.
	ErrInsufficientLots = errors.New("disposal exceeds available lots")
)

// IsConfigurationError reports whether err comes from how the calculation was
// requested rather than from the trade data.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrMissingLotOrder) ||
		errors.Is(err, ErrUnknownLot) ||
		errors.Is(err, ErrUnknownMethod)
}
