package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// TxType represents the type of transaction
type TxType string

const (
	TxDepositNative  TxType = "deposit_native"
	TxWithdrawNative TxType = "withdraw_native"
	TxDepositToken   TxType = "deposit_token"
	TxWithdrawToken  TxType = "withdraw_token"
	TxMakeOrder      TxType = "make_order"
	TxCancelOrder    TxType = "cancel_order"
	TxFillOrder      TxType = "fill_order"
	TxTransfer       TxType = "transfer" // native value transfer between accounts
	TxApprove        TxType = "approve"  // token allowance
)

var ErrMalformed = errors.New("malformed transaction")

// SignedTransaction is the wire envelope for every exchange transaction.
// The action is EIP-712 typed data signed by action.sender.
type SignedTransaction struct {
	Type      TxType        `json:"type"`
	Action    ActionPayload `json:"action"`
	Signature string        `json:"signature"` // Hex-encoded signature (0x...)
}

// ActionPayload carries the action fields as strings, the way wallets send them.
// Amounts and ids are base-10 integers, addresses are 0x-prefixed hex.
type ActionPayload struct {
	Sender     string `json:"sender"`
	Nonce      string `json:"nonce"`
	Asset      string `json:"asset,omitempty"`
	To         string `json:"to,omitempty"`
	Amount     string `json:"amount,omitempty"`
	TokenGet   string `json:"tokenGet,omitempty"`
	AmountGet  string `json:"amountGet,omitempty"`
	TokenGive  string `json:"tokenGive,omitempty"`
	AmountGive string `json:"amountGive,omitempty"`
	OrderID    string `json:"orderId,omitempty"`
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &tx, nil
}

// ParseTransaction deserializes and validates a raw transaction
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

// Validate checks that the envelope is complete for its type and that
// every field parses. It does not check the signature.
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("%w: missing transaction type", ErrMalformed)
	}
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}

	required, ok := requiredFields[tx.Type]
	if !ok {
		return fmt.Errorf("%w: unknown transaction type: %s", ErrMalformed, tx.Type)
	}
	a := tx.Action
	values := map[string]string{
		"sender": a.Sender, "nonce": a.Nonce, "asset": a.Asset, "to": a.To, "amount": a.Amount,
		"tokenGet": a.TokenGet, "amountGet": a.AmountGet, "tokenGive": a.TokenGive,
		"amountGive": a.AmountGive, "orderId": a.OrderID,
	}
	for _, f := range append([]string{"sender", "nonce"}, required...) {
		if values[f] == "" {
			return fmt.Errorf("%w: %s requires %s", ErrMalformed, tx.Type, f)
		}
	}

	_, err := tx.ToAction()
	return err
}

var requiredFields = map[TxType][]string{
	TxDepositNative:  {"amount"},
	TxWithdrawNative: {"amount"},
	TxDepositToken:   {"asset", "amount"},
	TxWithdrawToken:  {"asset", "amount"},
	TxMakeOrder:      {"tokenGet", "amountGet", "tokenGive", "amountGive"},
	TxCancelOrder:    {"orderId"},
	TxFillOrder:      {"orderId"},
	TxTransfer:       {"to", "amount"},
	TxApprove:        {"asset", "to", "amount"},
}

// ToAction converts the payload to the typed action that was signed.
// Empty fields become zero values.
func (tx *SignedTransaction) ToAction() (*crypto.Action, error) {
	p := tx.Action
	a := &crypto.Action{Type: string(tx.Type)}
	var err error

	if a.Sender, err = parseAddress("sender", p.Sender); err != nil {
		return nil, err
	}
	if a.Asset, err = parseAddress("asset", p.Asset); err != nil {
		return nil, err
	}
	if a.To, err = parseAddress("to", p.To); err != nil {
		return nil, err
	}
	if a.TokenGet, err = parseAddress("tokenGet", p.TokenGet); err != nil {
		return nil, err
	}
	if a.TokenGive, err = parseAddress("tokenGive", p.TokenGive); err != nil {
		return nil, err
	}
	if a.Nonce, err = parseUint64("nonce", p.Nonce); err != nil {
		return nil, err
	}
	if a.OrderID, err = parseUint64("orderId", p.OrderID); err != nil {
		return nil, err
	}
	if a.Amount, err = parseAmount("amount", p.Amount); err != nil {
		return nil, err
	}
	if a.AmountGet, err = parseAmount("amountGet", p.AmountGet); err != nil {
		return nil, err
	}
	if a.AmountGive, err = parseAmount("amountGive", p.AmountGive); err != nil {
		return nil, err
	}
	return a, nil
}

// FromAction builds the payload for a typed action. Fields the action type
// requires are always set, so an explicit zero address survives the round trip.
func FromAction(a *crypto.Action) ActionPayload {
	need := make(map[string]bool)
	for _, f := range requiredFields[TxType(a.Type)] {
		need[f] = true
	}
	addr := func(f string, v common.Address) string {
		if need[f] || v != (common.Address{}) {
			return v.Hex()
		}
		return ""
	}
	amount := func(v *uint256.Int) string {
		if v == nil {
			return ""
		}
		return v.Dec()
	}

	p := ActionPayload{
		Sender:     a.Sender.Hex(),
		Nonce:      strconv.FormatUint(a.Nonce, 10),
		Asset:      addr("asset", a.Asset),
		To:         addr("to", a.To),
		Amount:     amount(a.Amount),
		TokenGet:   addr("tokenGet", a.TokenGet),
		AmountGet:  amount(a.AmountGet),
		TokenGive:  addr("tokenGive", a.TokenGive),
		AmountGive: amount(a.AmountGive),
	}
	if need["orderId"] || a.OrderID != 0 {
		p.OrderID = strconv.FormatUint(a.OrderID, 10)
	}
	return p
}

// Sign signs a with signer and wraps it in an envelope.
func Sign(eip712 *crypto.EIP712Signer, signer *crypto.Signer, a *crypto.Action) (*SignedTransaction, error) {
	sig, err := eip712.SignAction(signer, a)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		Type:      TxType(a.Type),
		Action:    FromAction(a),
		Signature: hexutil.Encode(sig),
	}, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid %s address %q", ErrMalformed, field, s)
	}
	return common.HexToAddress(s), nil
}

func parseUint64(field, s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrMalformed, field, s)
	}
	return v, nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s %q", ErrMalformed, field, s)
	}
	return v, nil
}

// Example:
//   {
//     "type": "make_order",
//     "action": {
//       "sender": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//       "nonce": "1",
//       "tokenGet": "0x0000000000000000000000000000000000007070",
//       "amountGet": "1000000000000000000",
//       "tokenGive": "0x0000000000000000000000000000000000000000",
//       "amountGive": "1000000000000000000"
//     },
//     "signature": "0x1234567890abcdef..."
//   }
