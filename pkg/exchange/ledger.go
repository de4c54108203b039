package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// BalanceOf returns the committed ledger balance of user in asset (zero if never credited).
func (ex *Exchange) BalanceOf(asset, user common.Address) (*uint256.Int, error) {
	raw, ok, err := ex.db.Get(balanceKey(asset, user))
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).SetBytes(raw), nil
}

// DepositNative credits user with amount of native currency, pulled from
// user into custody within the same operation.
func (ex *Exchange) DepositNative(user common.Address, amount *uint256.Int) error {
	return ex.execute("deposit_native", func(o *op) error {
		return o.deposit(Native, user, amount, func() error {
			return ex.native.Transfer(user, ex.cfg.Address, amount)
		})
	})
}

// WithdrawNative debits user and returns amount of native currency from custody.
// If the return fails the debit is discarded.
func (ex *Exchange) WithdrawNative(user common.Address, amount *uint256.Int) error {
	return ex.execute("withdraw_native", func(o *op) error {
		return o.withdraw(Native, user, amount, func() error {
			return ex.native.Transfer(ex.cfg.Address, user, amount)
		})
	})
}

// DepositToken pulls amount of asset from user into custody and credits the
// ledger. user must have approved the custody address beforehand.
func (ex *Exchange) DepositToken(asset, user common.Address, amount *uint256.Int) error {
	return ex.execute("deposit_token", func(o *op) error {
		if IsNative(asset) {
			return fmt.Errorf("%w: native currency is not a token", ErrInvalidAsset)
		}
		tok, ok := ex.tokens(asset)
		if !ok {
			return fmt.Errorf("%w: unknown token %s", ErrTransferFailed, asset.Hex())
		}
		return o.deposit(asset, user, amount, func() error {
			return tok.TransferFrom(ex.cfg.Address, user, ex.cfg.Address, amount)
		})
	})
}

// WithdrawToken debits user and pushes amount of asset back from custody.
func (ex *Exchange) WithdrawToken(asset, user common.Address, amount *uint256.Int) error {
	return ex.execute("withdraw_token", func(o *op) error {
		if IsNative(asset) {
			return fmt.Errorf("%w: native currency is not a token", ErrInvalidAsset)
		}
		tok, ok := ex.tokens(asset)
		if !ok {
			return fmt.Errorf("%w: unknown token %s", ErrTransferFailed, asset.Hex())
		}
		return o.withdraw(asset, user, amount, func() error {
			return tok.Transfer(ex.cfg.Address, user, amount)
		})
	})
}

// deposit stages the credit and its event, then runs the pull transfer.
func (o *op) deposit(asset, user common.Address, amount *uint256.Int, pull func() error) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	bal, err := o.credit(asset, user, amount)
	if err != nil {
		return err
	}
	if err := o.emit(Event{Kind: EventDeposit, Balance: &BalanceChange{
		Asset: asset, User: user, Amount: cloneAmount(amount), Balance: bal,
	}}); err != nil {
		return err
	}
	if err := pull(); err != nil {
		return fmt.Errorf("%w: deposit %s of %s: %v", ErrTransferFailed, amount.Dec(), asset.Hex(), err)
	}
	o.ex.Logger.Debug("deposit", zap.Stringer("asset", asset), zap.Stringer("user", user), zap.String("amount", amount.Dec()))
	return nil
}

// withdraw stages the debit and its event, then runs the push transfer.
func (o *op) withdraw(asset, user common.Address, amount *uint256.Int, push func() error) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	bal, err := o.debit(asset, user, amount)
	if err != nil {
		return err
	}
	if err := o.emit(Event{Kind: EventWithdraw, Balance: &BalanceChange{
		Asset: asset, User: user, Amount: cloneAmount(amount), Balance: bal,
	}}); err != nil {
		return err
	}
	if err := push(); err != nil {
		return fmt.Errorf("%w: withdraw %s of %s: %v", ErrTransferFailed, amount.Dec(), asset.Hex(), err)
	}
	o.ex.Logger.Debug("withdraw", zap.Stringer("asset", asset), zap.Stringer("user", user), zap.String("amount", amount.Dec()))
	return nil
}

// balance reads through the transaction, so it sees this operation's staged writes.
func (o *op) balance(asset, user common.Address) (*uint256.Int, error) {
	raw, ok, err := o.txn.Get(balanceKey(asset, user))
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func (o *op) setBalance(asset, user common.Address, v *uint256.Int) error {
	if v.IsZero() {
		return o.txn.Delete(balanceKey(asset, user))
	}
	b := v.Bytes32()
	return o.txn.Set(balanceKey(asset, user), b[:])
}

// credit adds amount to the entry and returns the new balance.
func (o *op) credit(asset, user common.Address, amount *uint256.Int) (*uint256.Int, error) {
	bal, err := o.balance(asset, user)
	if err != nil {
		return nil, err
	}
	if _, overflow := bal.AddOverflow(bal, amount); overflow {
		return nil, fmt.Errorf("%w: %s of %s", ErrBalanceOverflow, user.Hex(), asset.Hex())
	}
	return bal, o.setBalance(asset, user, bal)
}

// debit subtracts amount from the entry and returns the new balance.
// A debit below zero fails with ErrInsufficientBalance and stages nothing.
func (o *op) debit(asset, user common.Address, amount *uint256.Int) (*uint256.Int, error) {
	bal, err := o.balance(asset, user)
	if err != nil {
		return nil, err
	}
	if bal.Lt(amount) {
		return nil, fmt.Errorf("%w: %s has %s of %s, needs %s",
			ErrInsufficientBalance, user.Hex(), bal.Dec(), asset.Hex(), amount.Dec())
	}
	bal.Sub(bal, amount)
	return bal, o.setBalance(asset, user, bal)
}
