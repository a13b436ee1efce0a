package portfolio

import "errors"

var (
	// ErrValidation is returned for malformed order input.
	ErrValidation = errors.New("portfolio: invalid order")

	// ErrNoSuchHolding is returned for a SELL of a symbol the owner does not hold.
	ErrNoSuchHolding = errors.New("portfolio: no such holding")

	// ErrInsufficientHolding is returned for a SELL larger than the held quantity.
	ErrInsufficientHolding = errors.New("portfolio: insufficient quantity")

	// ErrOrderNotFound is returned when cancelling an order the owner does not have.
	ErrOrderNotFound = errors.New("portfolio: order not found")
)

// Kind returns a short stable label for err, used as the API error code and
// as a metrics label.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNoSuchHolding):
		return "no_such_holding"
	case errors.Is(err, ErrInsufficientHolding):
		return "insufficient_holding"
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
