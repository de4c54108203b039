package exchange

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type EventKind string

const (
	EventDeposit  EventKind = "deposit"
	EventWithdraw EventKind = "withdraw"
	EventOrder    EventKind = "order"
	EventCancel   EventKind = "cancel"
	EventTrade    EventKind = "trade"
)

// Order is a recorded trade intent. The trade fields never change after
// creation; Filled and Cancelled flip at most once, and never both.
type Order struct {
	ID         uint64
	User       common.Address
	TokenGet   common.Address
	AmountGet  *uint256.Int
	TokenGive  common.Address
	AmountGive *uint256.Int
	Timestamp  int64 // unix seconds
	Filled     bool
	Cancelled  bool
}

// Settled reports whether the order can no longer be filled or cancelled.
func (o Order) Settled() bool { return o.Filled || o.Cancelled }

type orderJSON struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  string         `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive string         `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
	Filled     bool           `json:"filled"`
	Cancelled  bool           `json:"cancelled"`
}

func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		ID:         o.ID,
		User:       o.User,
		TokenGet:   o.TokenGet,
		AmountGet:  formatAmount(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: formatAmount(o.AmountGive),
		Timestamp:  o.Timestamp,
		Filled:     o.Filled,
		Cancelled:  o.Cancelled,
	})
}

func (o *Order) UnmarshalJSON(b []byte) error {
	var j orderJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	get, err := ParseAmount(j.AmountGet)
	if err != nil {
		return fmt.Errorf("order %d amountGet: %w", j.ID, err)
	}
	give, err := ParseAmount(j.AmountGive)
	if err != nil {
		return fmt.Errorf("order %d amountGive: %w", j.ID, err)
	}
	*o = Order{
		ID:         j.ID,
		User:       j.User,
		TokenGet:   j.TokenGet,
		AmountGet:  get,
		TokenGive:  j.TokenGive,
		AmountGive: give,
		Timestamp:  j.Timestamp,
		Filled:     j.Filled,
		Cancelled:  j.Cancelled,
	}
	return nil
}

// BalanceChange is the payload of Deposit and Withdraw events.
// Balance is the user's ledger balance after the operation.
type BalanceChange struct {
	Asset   common.Address
	User    common.Address
	Amount  *uint256.Int
	Balance *uint256.Int
}

type balanceChangeJSON struct {
	Asset   common.Address `json:"asset"`
	User    common.Address `json:"user"`
	Amount  string         `json:"amount"`
	Balance string         `json:"balance"`
}

func (c BalanceChange) MarshalJSON() ([]byte, error) {
	return json.Marshal(balanceChangeJSON{
		Asset:   c.Asset,
		User:    c.User,
		Amount:  formatAmount(c.Amount),
		Balance: formatAmount(c.Balance),
	})
}

func (c *BalanceChange) UnmarshalJSON(b []byte) error {
	var j balanceChangeJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	amount, err := ParseAmount(j.Amount)
	if err != nil {
		return err
	}
	balance, err := ParseAmount(j.Balance)
	if err != nil {
		return err
	}
	*c = BalanceChange{Asset: j.Asset, User: j.User, Amount: amount, Balance: balance}
	return nil
}

// Trade is the payload of a Trade event. Timestamp is the fill time;
// Order carries the creation timestamp.
type Trade struct {
	Order     Order
	Filler    common.Address
	Fee       *uint256.Int
	Timestamp int64
}

type tradeJSON struct {
	Order     Order          `json:"order"`
	Filler    common.Address `json:"filler"`
	Fee       string         `json:"fee"`
	Timestamp int64          `json:"timestamp"`
}

func (t Trade) MarshalJSON() ([]byte, error) {
	return json.Marshal(tradeJSON{
		Order:     t.Order,
		Filler:    t.Filler,
		Fee:       formatAmount(t.Fee),
		Timestamp: t.Timestamp,
	})
}

func (t *Trade) UnmarshalJSON(b []byte) error {
	var j tradeJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	fee, err := ParseAmount(j.Fee)
	if err != nil {
		return err
	}
	*t = Trade{Order: j.Order, Filler: j.Filler, Fee: fee, Timestamp: j.Timestamp}
	return nil
}

// Event is one entry of the audit log. Exactly one payload is set:
// Balance for deposits and withdrawals, Order for order and cancel, Trade for fills.
type Event struct {
	Seq       uint64         `json:"seq"`
	Kind      EventKind      `json:"kind"`
	Timestamp int64          `json:"timestamp"`
	Balance   *BalanceChange `json:"balance,omitempty"`
	Order     *Order         `json:"order,omitempty"`
	Trade     *Trade         `json:"trade,omitempty"`
}

// Accounts returns the addresses an event concerns.
func (e Event) Accounts() []common.Address {
	switch {
	case e.Balance != nil:
		return []common.Address{e.Balance.User}
	case e.Trade != nil:
		return []common.Address{e.Trade.Order.User, e.Trade.Filler}
	case e.Order != nil:
		return []common.Address{e.Order.User}
	}
	return nil
}

// EventSink receives events after the operation that produced them has
// committed. Sinks run on the caller's goroutine and must not block.
type EventSink func(Event)
