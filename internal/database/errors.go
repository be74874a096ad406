package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// Validation sentinels are returned before any row has been written, so the
// caller may correct input and retry without side effects. Anything else
// bubbling out of a transaction is an internal storage failure.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrCartNotFound         = errors.New("cart not found")
	ErrCartItemNotFound     = errors.New("cart item not found")
	ErrPromotionNotFound    = errors.New("promotion not found")
	ErrEmptyOrder           = errors.New("order has no items")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidShippingInfo  = errors.New("invalid shipping info")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrAccessDenied         = errors.New("access denied")
	ErrOrderNotCancellable  = errors.New("order cannot be cancelled at this stage")
	ErrOrderNotEditable     = errors.New("order can only be edited while pending")
	ErrIllegalTransition    = errors.New("illegal order status transition")
	ErrOptimisticLockFailed = errors.New("optimistic lock failed")
	ErrLockTimeout          = errors.New("lock timeout")
)
