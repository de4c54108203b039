package exchange

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAsset        = errors.New("invalid asset")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrNotOwner            = errors.New("not order owner")
	ErrUnsolicitedTransfer = errors.New("unsolicited transfer rejected")

	// ErrAlreadySettled matches both a filled and a cancelled order.
	ErrAlreadySettled   = errors.New("order already settled")
	ErrAlreadyFilled    = fmt.Errorf("%w: filled", ErrAlreadySettled)
	ErrAlreadyCancelled = fmt.Errorf("%w: cancelled", ErrAlreadySettled)

	ErrInvalidAmount   = errors.New("invalid amount")
	ErrBalanceOverflow = errors.New("balance overflow")
	ErrReentrantCall   = errors.New("reentrant call")
	ErrInvalidConfig   = errors.New("invalid exchange config")
	ErrConfigMismatch  = errors.New("exchange config does not match stored config")
)

// reason maps an operation error to a short metric label.
func reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidAsset):
		return "invalid_asset"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrInvalidOrder):
		return "invalid_order"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrAlreadyFilled):
		return "already_filled"
	case errors.Is(err, ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, ErrUnsolicitedTransfer):
		return "unsolicited_transfer"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrBalanceOverflow):
		return "balance_overflow"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant_call"
	default:
		return "internal"
	}
}
