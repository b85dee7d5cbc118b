package market

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a product, cart entry or transaction does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnavailable is returned when a product can no longer be purchased.
var ErrUnavailable = errors.New("product is no longer available")

// ErrSelfPurchase is returned when a seller tries to buy (or cart) their own product.
var ErrSelfPurchase = errors.New("cannot purchase your own product")

// ErrTransient marks storage failures and timeouts. Callers may retry.
var ErrTransient = errors.New("temporary storage failure")

// Validation errors
var (
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidProduct    = errors.New("invalid product")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyRecorded   = errors.New("transaction already recorded")
)

// conflictError is what the loser of an availability race gets back.
// It is also an ErrUnavailable, so callers can treat both as "no longer available".
type conflictError struct{}

func (conflictError) Error() string        { return "product was sold to another buyer" }
func (conflictError) Is(target error) bool { return target == ErrUnavailable }

// ErrConflict is returned when a compare-and-set on the availability flag loses.
var ErrConflict error = conflictError{}

// forbiddenError is returned for resources owned by someone else.
// It also matches ErrNotFound so foreign entries look absent to callers.
type forbiddenError struct{}

func (forbiddenError) Error() string        { return "not authorized to access this resource" }
func (forbiddenError) Is(target error) bool { return target == ErrNotFound }

// ErrForbidden is returned when a caller touches a cart entry or listing it does not own.
var ErrForbidden error = forbiddenError{}

// Transient tags err as ErrTransient unless it already carries a domain kind.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if IsDomain(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsDomain reports whether err belongs to the marketplace error taxonomy.
func IsDomain(err error) bool {
	for _, kind := range []error{
		ErrNotFound, ErrUnavailable, ErrSelfPurchase, ErrConflict, ErrForbidden, ErrTransient,
		ErrInvalidQuantity, ErrInvalidProduct, ErrInvalidInput, ErrInvalidTransition, ErrAlreadyRecorded,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether err comes from a cancelled or expired context.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
