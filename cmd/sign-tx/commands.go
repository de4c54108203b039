package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/hyperswap/pkg/app/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new secp256k1 key pair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		signer, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Address:     %s\n", signer.Address().Hex())
		fmt.Fprintf(cmd.OutOrStdout(), "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
		return nil
	},
}

// signFlags holds the raw flag values of the sign command.
type signFlags struct {
	key      string
	chainID  int64
	exchange string
	submit   string

	nonce      uint64
	asset      string
	to         string
	amount     string
	tokenGet   string
	amountGet  string
	tokenGive  string
	amountGive string
	orderID    uint64
}

var sf signFlags

var signCmd = &cobra.Command{
	Use:   "sign [type]",
	Short: "Sign an action and print (or submit) the transaction envelope",
	Long: `Sign an action of the given type. Types:
  deposit_native, withdraw_native          --amount
  deposit_token, withdraw_token            --asset --amount
  transfer                                 --to --amount
  approve                                  --asset --to --amount
  make_order                               --token-get --amount-get --token-give --amount-give
  cancel_order, fill_order                 --order-id

Amounts are decimal base units. Use 0x0000000000000000000000000000000000000000
for the native currency in make_order.`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

func init() {
	f := signCmd.Flags()
	f.StringVar(&sf.key, "key", "", "hex private key of the sender")
	f.Int64Var(&sf.chainID, "chain-id", 1337, "chain id of the signature domain")
	f.StringVar(&sf.exchange, "exchange", "0x000000000000000000000000000000000000e0c0", "exchange custody address of the signature domain")
	f.StringVar(&sf.submit, "submit", "", "node API base URL (e.g. http://localhost:8080); print only when empty")

	f.Uint64Var(&sf.nonce, "nonce", 1, "sender nonce; must exceed the last executed one")
	f.StringVar(&sf.asset, "asset", "", "token address")
	f.StringVar(&sf.to, "to", "", "recipient or spender address")
	f.StringVar(&sf.amount, "amount", "", "amount")
	f.StringVar(&sf.tokenGet, "token-get", "", "asset the order creator receives")
	f.StringVar(&sf.amountGet, "amount-get", "", "amount the order creator receives")
	f.StringVar(&sf.tokenGive, "token-give", "", "asset the order creator gives")
	f.StringVar(&sf.amountGive, "amount-give", "", "amount the order creator gives")
	f.Uint64Var(&sf.orderID, "order-id", 0, "order id")
	_ = signCmd.MarkFlagRequired("key")
}

func runSign(cmd *cobra.Command, args []string) error {
	signer, err := crypto.FromPrivateKeyHex(sf.key)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	if !common.IsHexAddress(sf.exchange) {
		return fmt.Errorf("invalid exchange address %q", sf.exchange)
	}

	action, err := buildAction(args[0], signer.Address(), sf)
	if err != nil {
		return err
	}

	eip712 := crypto.NewEIP712Signer(crypto.NewDomain(sf.chainID, common.HexToAddress(sf.exchange)))
	signed, err := transaction.Sign(eip712, signer, action)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	if err := signed.Validate(); err != nil {
		return err
	}

	if sf.submit == "" {
		out, err := json.MarshalIndent(signed, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	raw, err := signed.Serialize()
	if err != nil {
		return err
	}
	return submit(cmd.OutOrStdout(), sf.submit, raw)
}

// buildAction turns flag values into the action for txType. Flags the type
// does not use are ignored.
func buildAction(txType string, sender common.Address, f signFlags) (*crypto.Action, error) {
	a := &crypto.Action{Type: txType, Sender: sender, Nonce: f.nonce}

	var err error
	addr := func(name, v string) common.Address {
		if err != nil {
			return common.Address{}
		}
		if !common.IsHexAddress(v) {
			err = fmt.Errorf("--%s: invalid address %q", name, v)
			return common.Address{}
		}
		return common.HexToAddress(v)
	}
	amount := func(name, v string) *uint256.Int {
		if err != nil {
			return nil
		}
		n, perr := uint256.FromDecimal(v)
		if perr != nil {
			err = fmt.Errorf("--%s: invalid amount %q", name, v)
		}
		return n
	}

	switch transaction.TxType(txType) {
	case transaction.TxDepositNative, transaction.TxWithdrawNative:
		a.Amount = amount("amount", f.amount)
	case transaction.TxDepositToken, transaction.TxWithdrawToken:
		a.Asset = addr("asset", f.asset)
		a.Amount = amount("amount", f.amount)
	case transaction.TxTransfer:
		a.To = addr("to", f.to)
		a.Amount = amount("amount", f.amount)
	case transaction.TxApprove:
		a.Asset = addr("asset", f.asset)
		a.To = addr("to", f.to)
		a.Amount = amount("amount", f.amount)
	case transaction.TxMakeOrder:
		a.TokenGet = addr("token-get", f.tokenGet)
		a.AmountGet = amount("amount-get", f.amountGet)
		a.TokenGive = addr("token-give", f.tokenGive)
		a.AmountGive = amount("amount-give", f.amountGive)
	case transaction.TxCancelOrder, transaction.TxFillOrder:
		if f.orderID == 0 {
			return nil, fmt.Errorf("--order-id is required for %s", txType)
		}
		a.OrderID = f.orderID
	default:
		return nil, fmt.Errorf("unknown transaction type %q", txType)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func submit(w io.Writer, baseURL string, raw []byte) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(strings.TrimRight(baseURL, "/")+"/api/v1/tx", "application/json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("submit: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	fmt.Fprintln(w, strings.TrimSpace(string(body)))
	return nil
}
