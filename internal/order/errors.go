package order

import (
	"errors"
	"fmt"

	"takeout/internal/model"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrAddressNotFound = errors.New("address book not found")
	ErrInvalidState    = errors.New("order status does not allow this operation")
	ErrEmptyCart       = errors.New("shopping cart is empty")
	ErrAlreadyPaid     = errors.New("order already paid")
	ErrItemNotFound    = errors.New("dish or combo not found or not on sale")
	ErrInvalidCartItem = errors.New("invalid cart item")
	ErrDuplicateNumber = errors.New("order number already taken")
)

// TransitionError 记录失败的状态流转，Unwrap 到上面的哨兵错误，调用方用 errors.Is 判断。
type TransitionError struct {
	Op      string
	OrderID uint
	Number  string
	From    model.OrderStatus
	Err     error
}

func (e *TransitionError) Error() string {
	ref := e.Number
	if ref == "" {
		ref = fmt.Sprintf("#%d", e.OrderID)
	}
	if e.From == 0 {
		return fmt.Sprintf("%s order %s: %v", e.Op, ref, e.Err)
	}
	return fmt.Sprintf("%s order %s (status %s): %v", e.Op, ref, e.From, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// errorLabel 用于指标打标签。
func errorLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrAddressNotFound), errors.Is(err, ErrItemNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, ErrDuplicateNumber):
		return "duplicate_number"
	default:
		return "error"
	}
}
