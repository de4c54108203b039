package transaction

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/app/mempool"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var (
	exchangeAddr = common.HexToAddress("0x00000000000000000000000000000000000e0c00")
	tokenAddr    = common.HexToAddress("0x0000000000000000000000000000000000007070")
)

func newSigner(t *testing.T) (*crypto.Signer, *crypto.EIP712Signer) {
	t.Helper()
	s, err := crypto.GenerateKey()
	require.NoError(t, err)
	return s, crypto.NewEIP712Signer(crypto.NewDomain(1337, exchangeAddr))
}

func TestSignParseVerifyRoundTrip(t *testing.T) {
	s, eip := newSigner(t)
	v := NewVerifier(crypto.NewDomain(1337, exchangeAddr))

	actions := []*crypto.Action{
		{Type: string(TxDepositNative), Sender: s.Address(), Nonce: 1, Amount: uint256.NewInt(10)},
		{Type: string(TxDepositToken), Sender: s.Address(), Nonce: 2, Asset: tokenAddr, Amount: uint256.NewInt(5)},
		{Type: string(TxDepositToken), Sender: s.Address(), Nonce: 3, Asset: common.Address{}, Amount: uint256.NewInt(5)},
		{Type: string(TxMakeOrder), Sender: s.Address(), Nonce: 4, TokenGet: tokenAddr, AmountGet: uint256.NewInt(1), TokenGive: common.Address{}, AmountGive: uint256.NewInt(2)},
		{Type: string(TxFillOrder), Sender: s.Address(), Nonce: 5, OrderID: 1},
		{Type: string(TxApprove), Sender: s.Address(), Nonce: 6, Asset: tokenAddr, To: exchangeAddr, Amount: uint256.NewInt(7)},
	}

	for _, a := range actions {
		t.Run(a.Type, func(t *testing.T) {
			tx, err := Sign(eip, s, a)
			require.NoError(t, err)
			raw, err := tx.Serialize()
			require.NoError(t, err)

			parsed, err := ParseTransaction(raw)
			require.NoError(t, err)

			got, err := v.Verify(parsed)
			require.NoError(t, err)
			assert.Equal(t, a.Type, got.Type)
			assert.Equal(t, s.Address(), got.Sender)
			assert.Equal(t, a.Nonce, got.Nonce)
			assert.Equal(t, a.Asset, got.Asset)
			assert.Equal(t, a.OrderID, got.OrderID)
		})
	}
}

func TestVerifyRejectsForgedSender(t *testing.T) {
	s, eip := newSigner(t)
	other, _ := crypto.GenerateKey()
	v := NewVerifier(eip.Domain())

	tx, err := Sign(eip, s, &crypto.Action{Type: string(TxWithdrawNative), Sender: s.Address(), Nonce: 1, Amount: uint256.NewInt(10)})
	require.NoError(t, err)

	tx.Action.Sender = other.Address().Hex()
	_, err = v.Verify(tx)
	require.ErrorIs(t, err, ErrBadSignature)

	tx.Action.Sender = s.Address().Hex()
	tx.Action.Amount = "11"
	_, err = v.Verify(tx)
	require.ErrorIs(t, err, ErrBadSignature)

	tx.Action.Amount = "10"
	tx.Signature = "0x1234"
	_, err = v.Verify(tx)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsOtherDomain(t *testing.T) {
	s, eip := newSigner(t)
	tx, err := Sign(eip, s, &crypto.Action{Type: string(TxFillOrder), Sender: s.Address(), Nonce: 1, OrderID: 1})
	require.NoError(t, err)

	other := NewVerifier(crypto.NewDomain(1337, common.HexToAddress("0x01")))
	_, err = other.Verify(tx)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestValidate(t *testing.T) {
	sender := "0x00000000000000000000000000000000000000a1"
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"valid deposit", `{"type":"deposit_native","action":{"sender":"` + sender + `","nonce":"1","amount":"5"},"signature":"0x01"}`, true},
		{"not json", `N:1`, false},
		{"missing type", `{"action":{"sender":"` + sender + `","nonce":"1"},"signature":"0x01"}`, false},
		{"unknown type", `{"type":"liquidate","action":{"sender":"` + sender + `","nonce":"1"},"signature":"0x01"}`, false},
		{"missing signature", `{"type":"fill_order","action":{"sender":"` + sender + `","nonce":"1","orderId":"1"}}`, false},
		{"missing nonce", `{"type":"fill_order","action":{"sender":"` + sender + `","orderId":"1"},"signature":"0x01"}`, false},
		{"missing order id", `{"type":"cancel_order","action":{"sender":"` + sender + `","nonce":"1"},"signature":"0x01"}`, false},
		{"bad amount", `{"type":"deposit_native","action":{"sender":"` + sender + `","nonce":"1","amount":"-5"},"signature":"0x01"}`, false},
		{"bad address", `{"type":"deposit_token","action":{"sender":"` + sender + `","nonce":"1","asset":"0xzz","amount":"5"},"signature":"0x01"}`, false},
		{"make order needs both sides", `{"type":"make_order","action":{"sender":"` + sender + `","nonce":"1","tokenGet":"` + sender + `","amountGet":"1"},"signature":"0x01"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTransaction([]byte(tt.raw))
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrMalformed)
			}
		})
	}
}

func TestEnvelopeClassification(t *testing.T) {
	s, eip := newSigner(t)
	cases := map[TxType]mempool.TxType{
		TxDepositNative: mempool.TxFunding,
		TxApprove:       mempool.TxFunding,
		TxTransfer:      mempool.TxFunding,
		TxCancelOrder:   mempool.TxCancel,
		TxFillOrder:     mempool.TxOrder,
		TxMakeOrder:     mempool.TxOrder,
	}
	for typ, want := range cases {
		tx, err := Sign(eip, s, &crypto.Action{Type: string(typ), Sender: s.Address(), Nonce: 1})
		require.NoError(t, err)
		raw, err := tx.Serialize()
		require.NoError(t, err)
		assert.Equal(t, want, mempool.ClassifyRaw(raw), string(typ))
	}
}
