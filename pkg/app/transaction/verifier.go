package transaction

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var ErrBadSignature = errors.New("invalid signature")

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

// NewVerifier creates a new transaction verifier
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

func (v *Verifier) Signer() *crypto.EIP712Signer { return v.eip712Signer }

// Verify checks that the transaction was signed by action.sender and
// returns the typed action.
func (v *Verifier) Verify(tx *SignedTransaction) (*crypto.Action, error) {
	action, err := tx.ToAction()
	if err != nil {
		return nil, err
	}

	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return nil, err
	}

	signer, err := v.eip712Signer.RecoverActionSigner(action, sigBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer != action.Sender {
		return nil, fmt.Errorf("%w: signed by %s, sender is %s", ErrBadSignature, signer.Hex(), action.Sender.Hex())
	}
	return action, nil
}

// decodeSignature decodes a 0x-prefixed hex signature
func decodeSignature(sig string) ([]byte, error) {
	sigBytes, err := hexutil.Decode(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex signature: %v", ErrBadSignature, err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("%w: signature must be 65 bytes, got %d", ErrBadSignature, len(sigBytes))
	}
	return sigBytes, nil
}
