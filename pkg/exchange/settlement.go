package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// FillOrder settles order id against filler.
//
// The filler pays amountGet plus the fee in tokenGet; the creator receives the
// full amountGet, the fee account receives the fee, and amountGive of tokenGive
// moves from the creator to the filler without a fee. All five ledger changes
// and the filled flag commit together: if either party is short, the fill
// fails with ErrInsufficientBalance and nothing changes.
func (ex *Exchange) FillOrder(filler common.Address, id uint64) (Trade, error) {
	var out Trade
	err := ex.execute("fill_order", func(o *op) error {
		ord, err := o.order(id)
		if err != nil {
			return err
		}
		if err := checkOpen(ord); err != nil {
			return err
		}

		fee := FeeFor(ord.AmountGet, ex.cfg.FeePercent)
		total, overflow := cloneAmount(ord.AmountGet).AddOverflow(ord.AmountGet, fee)
		if overflow {
			return fmt.Errorf("%w: amountGet plus fee overflows", ErrInsufficientBalance)
		}

		// Applied in sequence through the transaction, so self-fills and
		// orders with tokenGet == tokenGive net out correctly.
		if _, err := o.debit(ord.TokenGet, filler, total); err != nil {
			return err
		}
		if _, err := o.credit(ord.TokenGet, ord.User, ord.AmountGet); err != nil {
			return err
		}
		if _, err := o.credit(ord.TokenGet, ex.cfg.FeeAccount, fee); err != nil {
			return err
		}
		if _, err := o.debit(ord.TokenGive, ord.User, ord.AmountGive); err != nil {
			return err
		}
		if _, err := o.credit(ord.TokenGive, filler, ord.AmountGive); err != nil {
			return err
		}

		ord.Filled = true
		if err := o.putOrder(ord); err != nil {
			return err
		}

		trade := Trade{Order: ord, Filler: filler, Fee: fee, Timestamp: o.now}
		if err := o.emit(Event{Kind: EventTrade, Timestamp: trade.Timestamp, Trade: &trade}); err != nil {
			return err
		}
		out = trade
		return nil
	})
	if err != nil {
		return Trade{}, err
	}
	ex.Logger.Info("trade",
		zap.Uint64("id", out.Order.ID),
		zap.Stringer("maker", out.Order.User),
		zap.Stringer("filler", out.Filler),
		zap.String("fee", out.Fee.Dec()))
	return out, nil
}
