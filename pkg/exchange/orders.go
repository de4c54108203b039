package exchange

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/storage"
)

// MakeOrder records a new order for user and returns it. Balances are not
// checked here: an underfunded order is only rejected when someone fills it.
func (ex *Exchange) MakeOrder(user, tokenGet common.Address, amountGet *uint256.Int, tokenGive common.Address, amountGive *uint256.Int) (Order, error) {
	var out Order
	err := ex.execute("make_order", func(o *op) error {
		if amountGet == nil || amountGive == nil {
			return ErrInvalidAmount
		}
		count, err := o.counter(keyOrderCount)
		if err != nil {
			return err
		}

		// Timestamps never decrease with id.
		last, err := o.counter(keyLastTimestamp)
		if err != nil {
			return err
		}
		ts := o.now
		if ts < int64(last) {
			ts = int64(last)
		}

		ord := Order{
			ID:         count + 1,
			User:       user,
			TokenGet:   tokenGet,
			AmountGet:  cloneAmount(amountGet),
			TokenGive:  tokenGive,
			AmountGive: cloneAmount(amountGive),
			Timestamp:  ts,
		}
		if err := o.putOrder(ord); err != nil {
			return err
		}
		if err := o.setCounter(keyOrderCount, ord.ID); err != nil {
			return err
		}
		if err := o.setCounter(keyLastTimestamp, uint64(ts)); err != nil {
			return err
		}
		if err := o.emit(Event{Kind: EventOrder, Timestamp: ts, Order: &ord}); err != nil {
			return err
		}
		out = ord
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	ex.Metrics.setOrderCount(out.ID)
	ex.Logger.Debug("order", zap.Uint64("id", out.ID), zap.Stringer("user", out.User))
	return out, nil
}

// CancelOrder marks the order cancelled. Only its creator may cancel, and
// only while it is neither filled nor cancelled.
func (ex *Exchange) CancelOrder(user common.Address, id uint64) (Order, error) {
	var out Order
	err := ex.execute("cancel_order", func(o *op) error {
		ord, err := o.order(id)
		if err != nil {
			return err
		}
		if ord.User != user {
			return fmt.Errorf("%w: order %d belongs to %s", ErrNotOwner, id, ord.User.Hex())
		}
		if err := checkOpen(ord); err != nil {
			return err
		}

		ord.Cancelled = true
		if err := o.putOrder(ord); err != nil {
			return err
		}
		// The event is stamped with the cancel time; the order keeps its creation time.
		if err := o.emit(Event{Kind: EventCancel, Order: &ord}); err != nil {
			return err
		}
		out = ord
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return out, nil
}

// OrderCount returns the number of orders ever created, which is also the highest valid id.
func (ex *Exchange) OrderCount() (uint64, error) {
	return readCounter(ex.db.Get(keyOrderCount))
}

// Order returns the committed order with the given id.
func (ex *Exchange) Order(id uint64) (Order, error) {
	return loadOrder(ex.db.Get, id)
}

// OrderFilled reports the filled flag. Unknown ids are not filled.
func (ex *Exchange) OrderFilled(id uint64) (bool, error) {
	ord, err := ex.Order(id)
	if err != nil {
		return false, ignoreInvalidOrder(err)
	}
	return ord.Filled, nil
}

// OrderCancelled reports the cancelled flag. Unknown ids are not cancelled.
func (ex *Exchange) OrderCancelled(id uint64) (bool, error) {
	ord, err := ex.Order(id)
	if err != nil {
		return false, ignoreInvalidOrder(err)
	}
	return ord.Cancelled, nil
}

// Orders returns up to limit orders with id >= from, in id order.
func (ex *Exchange) Orders(from uint64, limit int) ([]Order, error) {
	var out []Order
	err := ex.db.IterateFrom([]byte(prefixOrder), orderKey(from), func(_, v []byte) error {
		if limit > 0 && len(out) >= limit {
			return storage.ErrStopIteration
		}
		var ord Order
		if err := json.Unmarshal(v, &ord); err != nil {
			return fmt.Errorf("decode order: %w", err)
		}
		out = append(out, ord)
		return nil
	})
	return out, err
}

func (o *op) order(id uint64) (Order, error) {
	return loadOrder(o.txn.Get, id)
}

func (o *op) putOrder(ord Order) error {
	raw, err := json.Marshal(ord)
	if err != nil {
		return fmt.Errorf("encode order %d: %w", ord.ID, err)
	}
	return o.txn.Set(orderKey(ord.ID), raw)
}

func loadOrder(get func([]byte) ([]byte, bool, error), id uint64) (Order, error) {
	if id == 0 {
		return Order{}, fmt.Errorf("%w: id 0", ErrInvalidOrder)
	}
	raw, ok, err := get(orderKey(id))
	if err != nil {
		return Order{}, fmt.Errorf("read order %d: %w", id, err)
	}
	if !ok {
		return Order{}, fmt.Errorf("%w: order %d does not exist", ErrInvalidOrder, id)
	}
	var ord Order
	if err := json.Unmarshal(raw, &ord); err != nil {
		return Order{}, fmt.Errorf("decode order %d: %w", id, err)
	}
	return ord, nil
}

func checkOpen(ord Order) error {
	if !ord.Settled() {
		return nil
	}
	if ord.Filled {
		return fmt.Errorf("%w: order %d", ErrAlreadyFilled, ord.ID)
	}
	return fmt.Errorf("%w: order %d", ErrAlreadyCancelled, ord.ID)
}

func ignoreInvalidOrder(err error) error {
	if errors.Is(err, ErrInvalidOrder) {
		return nil
	}
	return err
}
