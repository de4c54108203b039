package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/storage"
)

// Pebble key schema
//
//	bal:{asset}:{user}     → 32-byte big-endian amount (absent = zero)
//	ord:{8-byte id}        → Order (JSON)
//	evt:{8-byte seq}       → Event (JSON)
//	meta:orderCount        → uint64
//	meta:lastTimestamp     → uint64 (unix seconds of the newest order)
//	meta:eventSeq          → uint64
//	cfg:exchange           → Config (JSON)
const (
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixEvent   = "evt:"
	prefixMeta    = "meta:"
	prefixConfig  = "cfg:"
)

var (
	keyOrderCount    = []byte(prefixMeta + "orderCount")
	keyLastTimestamp = []byte(prefixMeta + "lastTimestamp")
	keyEventSeq      = []byte(prefixMeta + "eventSeq")
	keyConfig        = []byte(prefixConfig + "exchange")
)

// statePrefixes lists every prefix the exchange owns, in StateRoot order.
var statePrefixes = []string{prefixBalance, prefixConfig, prefixEvent, prefixMeta, prefixOrder}

// balanceKey returns the key for a ledger entry
// Format: "bal:{asset}:{user}"
func balanceKey(asset, user common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), user.Hex()))
}

// balancePrefix returns the prefix for all ledger entries of an asset
func balancePrefix(asset common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, asset.Hex()))
}

func orderKey(id uint64) []byte { return storage.Uint64Key(prefixOrder, id) }

func eventKey(seq uint64) []byte { return storage.Uint64Key(prefixEvent, seq) }
