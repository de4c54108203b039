package exchange_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/exchange"
)

func TestDepositAndWithdrawNative(t *testing.T) {
	f := newFixture(t, 10)

	require.NoError(t, f.ex.DepositNative(user1, units(1)))
	assert.Equal(t, units(1), f.balance(t, exchange.Native, user1))
	assert.Equal(t, units(1), f.native.BalanceOf(custody))
	assert.Equal(t, units(99), f.native.BalanceOf(user1))

	require.NoError(t, f.ex.WithdrawNative(user1, tenths(4)))
	assert.Equal(t, tenths(6), f.balance(t, exchange.Native, user1))
	assert.Equal(t, tenths(6), f.native.BalanceOf(custody))
}

func TestWithdrawNativeInsufficientBalance(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.ex.DepositNative(user1, units(1)))

	err := f.ex.WithdrawNative(user1, units(2))
	require.ErrorIs(t, err, exchange.ErrInsufficientBalance)
	assert.Equal(t, units(1), f.balance(t, exchange.Native, user1))
	assert.Equal(t, units(1), f.native.BalanceOf(custody))
}

func TestDepositNativeWithoutFunds(t *testing.T) {
	f := newFixture(t, 10)
	err := f.ex.DepositNative(user1, units(101))
	require.ErrorIs(t, err, exchange.ErrTransferFailed)
	assert.True(t, f.balance(t, exchange.Native, user1).IsZero())
}

func TestDepositAndWithdrawToken(t *testing.T) {
	f := newFixture(t, 10)

	f.depositToken(t, user1, units(10))
	assert.Equal(t, units(10), f.balance(t, tokenAddr, user1))
	assert.Equal(t, units(10), f.tok.BalanceOf(custody))
	assert.True(t, f.tok.Allowance(user1, custody).IsZero())

	require.NoError(t, f.ex.WithdrawToken(tokenAddr, user1, units(10)))
	assert.True(t, f.balance(t, tokenAddr, user1).IsZero())
	assert.Equal(t, units(100), f.tok.BalanceOf(user1))
}

func TestTokenRejections(t *testing.T) {
	f := newFixture(t, 10)
	unknown := common.HexToAddress("0x0000000000000000000000000000000000009999")

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{
			name: "deposit native sentinel",
			run:  func() error { return f.ex.DepositToken(exchange.Native, user1, units(1)) },
			want: exchange.ErrInvalidAsset,
		},
		{
			name: "withdraw native sentinel",
			run:  func() error { return f.ex.WithdrawToken(exchange.Native, user1, units(1)) },
			want: exchange.ErrInvalidAsset,
		},
		{
			name: "deposit without allowance",
			run:  func() error { return f.ex.DepositToken(tokenAddr, user1, units(1)) },
			want: exchange.ErrTransferFailed,
		},
		{
			name: "deposit unknown token",
			run:  func() error { return f.ex.DepositToken(unknown, user1, units(1)) },
			want: exchange.ErrTransferFailed,
		},
		{
			name: "withdraw more than balance",
			run:  func() error { return f.ex.WithdrawToken(tokenAddr, user1, units(1)) },
			want: exchange.ErrInsufficientBalance,
		},
		{
			name: "nil amount",
			run:  func() error { return f.ex.DepositNative(user1, nil) },
			want: exchange.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.run(), tt.want)
			assert.True(t, f.balance(t, tokenAddr, user1).IsZero())
			assert.True(t, f.balance(t, exchange.Native, user1).IsZero())
		})
	}

	// The native sentinel is rejected regardless of balance state.
	require.NoError(t, f.ex.DepositNative(user1, units(5)))
	require.ErrorIs(t, f.ex.DepositToken(exchange.Native, user1, units(1)), exchange.ErrInvalidAsset)
}

func TestBalanceReadsAreIdempotent(t *testing.T) {
	f := newFixture(t, 10)
	require.NoError(t, f.ex.DepositNative(user1, units(1)))

	root, err := f.ex.StateRoot()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.Equal(t, units(1), f.balance(t, exchange.Native, user1))
		assert.True(t, f.balance(t, exchange.Native, user2).IsZero())
	}
	again, err := f.ex.StateRoot()
	require.NoError(t, err)
	assert.Equal(t, root, again)
}
