package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/exchanges
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "HyperSwap")
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local)
	VerifyingContract common.Address // Exchange custody address
}

// Action is the typed data a user signs for every exchange transaction.
// Fields a given action type does not use are left zero.
type Action struct {
	Type       string
	Sender     common.Address
	Nonce      uint64
	Asset      common.Address // deposit/withdraw token, approve
	To         common.Address // transfer recipient, approve spender
	Amount     *uint256.Int
	TokenGet   common.Address // make_order
	AmountGet  *uint256.Int
	TokenGive  common.Address
	AmountGive *uint256.Int
	OrderID    uint64 // cancel_order, fill_order
}

var actionTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Action": []apitypes.Type{
		{Name: "type", Type: "string"},
		{Name: "sender", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "asset", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "tokenGet", Type: "address"},
		{Name: "amountGet", Type: "uint256"},
		{Name: "tokenGive", Type: "address"},
		{Name: "amountGive", Type: "uint256"},
		{Name: "orderId", Type: "uint256"},
	},
}

// EIP712Signer hashes, signs and verifies exchange actions for one domain
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// NewDomain returns the HyperSwap domain bound to a chain and exchange
func NewDomain(chainID int64, exchange common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              "HyperSwap",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: exchange,
	}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

// TypedData builds the eth_signTypedData_v4 payload for an action
func (e *EIP712Signer) TypedData(a *Action) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       actionTypes,
		PrimaryType: "Action",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"type":       a.Type,
			"sender":     a.Sender.Hex(),
			"nonce":      strconv.FormatUint(a.Nonce, 10),
			"asset":      a.Asset.Hex(),
			"to":         a.To.Hex(),
			"amount":     decimal(a.Amount),
			"tokenGet":   a.TokenGet.Hex(),
			"amountGet":  decimal(a.AmountGet),
			"tokenGive":  a.TokenGive.Hex(),
			"amountGive": decimal(a.AmountGive),
			"orderId":    strconv.FormatUint(a.OrderID, 10),
		},
	}
}

// HashAction hashes an action according to EIP-712
// Returns the digest that should be signed
func (e *EIP712Signer) HashAction(a *Action) ([]byte, error) {
	typedData := e.TypedData(a)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// Final digest: keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// SignAction signs an action and returns the signature
func (e *EIP712Signer) SignAction(signer *Signer, a *Action) ([]byte, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return nil, fmt.Errorf("failed to hash action: %w", err)
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign action: %w", err)
	}
	return signature, nil
}

// RecoverActionSigner recovers the address that signed an action
func (e *EIP712Signer) RecoverActionSigner(a *Action, signature []byte) (common.Address, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash action: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// ActionToJSON converts an action to JSON for wallet signing
// MetaMask and other wallets use this format for eth_signTypedData_v4
func (e *EIP712Signer) ActionToJSON(a *Action) (string, error) {
	jsonBytes, err := json.MarshalIndent(e.TypedData(a), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
